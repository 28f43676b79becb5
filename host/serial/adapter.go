package serial

import (
	"time"

	"github.com/rosek86/sds011"
)

// bufSize is the size of the Adapter's internal receive ring. It only
// needs to absorb whatever arrives between two Process calls; a few
// host-query frames' worth is generous headroom.
const bufSize = 256

// Adapter bridges a blocking Port to the sds011.Serial capability
// interface (BytesAvailable/ReadByte/SendByte) the engine consumes. The
// underlying Port is expected to have a short, non-zero ReadTimeout
// (see DefaultConfig) so a BytesAvailable call that finds the ring
// empty can opportunistically attempt a bounded read instead of
// blocking Process indefinitely.
type Adapter struct {
	port Port

	rx     [bufSize]byte
	rxHead int
	rxTail int
	rxLen  int
}

// NewAdapter wraps an already-open Port.
func NewAdapter(port Port) *Adapter {
	return &Adapter{port: port}
}

// fill attempts one non-blocking-ish read from the port into the ring,
// bounded by the port's configured ReadTimeout. It is a best-effort
// top-up, not a wait: a timed-out read with zero bytes is not an error.
func (a *Adapter) fill() {
	free := bufSize - a.rxLen
	if free == 0 {
		return
	}

	tmp := make([]byte, free)
	n, err := a.port.Read(tmp)
	if err != nil || n == 0 {
		return
	}

	for i := 0; i < n; i++ {
		a.rx[a.rxTail] = tmp[i]
		a.rxTail = (a.rxTail + 1) % bufSize
		a.rxLen++
	}
}

// BytesAvailable reports how many decoded bytes are ready for ReadByte,
// topping up the ring with one opportunistic read first.
func (a *Adapter) BytesAvailable() uint {
	a.fill()
	return uint(a.rxLen)
}

// ReadByte returns the oldest buffered byte. Callers must only call it
// when BytesAvailable reported at least one byte; an empty ring returns
// 0 rather than panicking, matching the capability's "no error channel"
// shape.
func (a *Adapter) ReadByte() byte {
	if a.rxLen == 0 {
		return 0
	}
	b := a.rx[a.rxHead]
	a.rxHead = (a.rxHead + 1) % bufSize
	a.rxLen--
	return b
}

// SendByte writes b to the port, reporting success. A write error is
// reported as a failed send so the engine's send-timeout loop retries
// or times out rather than panicking on a transient transport fault.
func (a *Adapter) SendByte(b byte) bool {
	_, err := a.port.Write([]byte{b})
	return err == nil
}

// SystemClock is a Clock backed by the monotonic wall clock, reporting
// elapsed milliseconds since the clock was constructed. The engine only
// ever differences two readings, so the epoch is arbitrary.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a Clock anchored at the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Millis returns milliseconds elapsed since NewSystemClock, truncated
// to uint32 (the engine tolerates overflow via unsigned subtraction).
func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

var _ sds011.Serial = (*Adapter)(nil)
var _ sds011.Clock = (*SystemClock)(nil)
