// Package sensor provides a blocking, goroutine-driven convenience
// wrapper around sds011.Engine, in the spirit of gopper's host/mcu.MCU:
// it owns the serial connection and a background poll loop, and turns
// the engine's callback-based API into ordinary blocking method calls.
package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rosek86/sds011"
	"github.com/rosek86/sds011/host/serial"
)

// defaultPollInterval is how often the background loop calls
// engine.Process when the serial port itself isn't pacing us via its
// read timeout.
const defaultPollInterval = 10 * time.Millisecond

// Sensor represents a connection to one or more SDS011 sensors sharing
// a serial bus.
type Sensor struct {
	port    serial.Port
	adapter *serial.Adapter
	clock   *serial.SystemClock
	engine  *sds011.Engine

	mu        sync.Mutex
	connected bool

	stop chan struct{}
	done chan struct{}
}

// New returns an unconnected Sensor. Connect or ConnectWithConfig must
// be called before any other method.
func New() *Sensor {
	return &Sensor{}
}

// Connect opens device at the SDS011's fixed 9600 baud and starts the
// background poll loop.
func (s *Sensor) Connect(device string) error {
	return s.ConnectWithConfig(serial.DefaultConfig(device), sds011.Config{MsgTimeout: 2000, Retries: 2})
}

// ConnectWithConfig opens the serial port with a caller-supplied config
// and engine tunables, then starts the background poll loop.
func (s *Sensor) ConnectWithConfig(scfg *serial.Config, ecfg sds011.Config) error {
	port, err := serial.Open(scfg)
	if err != nil {
		return fmt.Errorf("sensor: failed to open serial port: %w", err)
	}

	adapter := serial.NewAdapter(port)
	clock := serial.NewSystemClock()
	engine, eerr := sds011.NewEngine(ecfg, clock, adapter, 8)
	if eerr != nil {
		port.Close()
		return fmt.Errorf("sensor: failed to construct engine: %w", eerr)
	}

	s.port = port
	s.adapter = adapter
	s.clock = clock
	s.engine = engine
	s.connected = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop()

	return nil
}

// Close stops the background loop and closes the serial port.
func (s *Sensor) Close() error {
	if !s.connected {
		return nil
	}
	close(s.stop)
	<-s.done
	s.connected = false
	return s.port.Close()
}

// SetSampleObserver registers obs to receive every unsolicited DATA
// reading the sensor pushes, independent of any in-flight QueryData
// call.
func (s *Sensor) SetSampleObserver(obs sds011.SampleObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.SetSampleObserver(obs)
}

func (s *Sensor) loop() {
	defer close(s.done)
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.engine.Process()
			s.mu.Unlock()
		}
	}
}

// await turns an engine enqueue call into a blocking one: it invokes
// submit with a callback that delivers the result over a one-slot
// buffered channel, then waits for it. submit is called under the Sensor's lock
// so it races safely with the background Process loop.
func await[T any](s *Sensor, submit func(cb sds011.RequestCallback) *sds011.Error, decode func(msg sds011.Message) T) (T, error) {
	var zero T
	type result struct {
		err *sds011.Error
		msg sds011.Message
	}
	ch := make(chan result, 1)

	s.mu.Lock()
	enqErr := submit(func(err *sds011.Error, msg *sds011.Message, _ any) {
		r := result{err: err}
		if msg != nil {
			r.msg = *msg
		}
		ch <- r
	})
	s.mu.Unlock()

	if enqErr != nil {
		return zero, enqErr
	}

	r := <-ch
	if r.err != nil {
		return zero, r.err
	}
	return decode(r.msg), nil
}

// QueryData requests one reading from devID and blocks until it
// arrives, times out, or fails validation.
func (s *Sensor) QueryData(devID uint16) (sds011.SamplePayload, error) {
	return await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.QueryData(devID, cb, nil) },
		func(msg sds011.Message) sds011.SamplePayload { return msg.Sample })
}

// SetDeviceID reassigns devID's wire address to newID.
func (s *Sensor) SetDeviceID(devID, newID uint16) error {
	_, err := await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.SetDeviceID(devID, newID, cb, nil) },
		func(sds011.Message) struct{} { return struct{}{} })
	return err
}

// SetReportingModeActive switches devID to unsolicited reporting.
func (s *Sensor) SetReportingModeActive(devID uint16) error {
	_, err := await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.SetReportingModeActive(devID, cb, nil) },
		func(sds011.Message) struct{} { return struct{}{} })
	return err
}

// SetReportingModeQuery switches devID to manual reporting.
func (s *Sensor) SetReportingModeQuery(devID uint16) error {
	_, err := await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.SetReportingModeQuery(devID, cb, nil) },
		func(sds011.Message) struct{} { return struct{}{} })
	return err
}

// GetReportingMode retrieves devID's current reporting mode.
func (s *Sensor) GetReportingMode(devID uint16) (sds011.RepMode, error) {
	return await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.GetReportingMode(devID, cb, nil) },
		func(msg sds011.Message) sds011.RepMode { return msg.RepMode })
}

// SetSleepOn puts devID to sleep.
func (s *Sensor) SetSleepOn(devID uint16) error {
	_, err := await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.SetSleepOn(devID, cb, nil) },
		func(sds011.Message) struct{} { return struct{}{} })
	return err
}

// SetSleepOff wakes devID.
func (s *Sensor) SetSleepOff(devID uint16) error {
	_, err := await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.SetSleepOff(devID, cb, nil) },
		func(sds011.Message) struct{} { return struct{}{} })
	return err
}

// GetSleep retrieves devID's current sleep state.
func (s *Sensor) GetSleep(devID uint16) (sds011.Sleep, error) {
	return await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.GetSleep(devID, cb, nil) },
		func(msg sds011.Message) sds011.Sleep { return msg.Sleep })
}

// SetOpModeContinuous switches devID to continuous sampling.
func (s *Sensor) SetOpModeContinuous(devID uint16) error {
	_, err := await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.SetOpModeContinuous(devID, cb, nil) },
		func(sds011.Message) struct{} { return struct{}{} })
	return err
}

// SetOpModePeriodic switches devID to interval sampling, waking every
// interval minutes (1..30).
func (s *Sensor) SetOpModePeriodic(devID uint16, interval uint8) error {
	_, err := await(s,
		func(cb sds011.RequestCallback) *sds011.Error {
			return s.engine.SetOpModePeriodic(devID, interval, cb, nil)
		},
		func(sds011.Message) struct{} { return struct{}{} })
	return err
}

// GetOpMode retrieves devID's current duty-cycle mode.
func (s *Sensor) GetOpMode(devID uint16) (sds011.OpModePayload, error) {
	return await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.GetOpMode(devID, cb, nil) },
		func(msg sds011.Message) sds011.OpModePayload { return msg.OpMode })
}

// GetFirmwareVersion retrieves devID's firmware build date.
func (s *Sensor) GetFirmwareVersion(devID uint16) (sds011.FwVerPayload, error) {
	return await(s,
		func(cb sds011.RequestCallback) *sds011.Error { return s.engine.GetFirmwareVersion(devID, cb, nil) },
		func(msg sds011.Message) sds011.FwVerPayload { return msg.FwVer })
}

// IsConnected reports whether the sensor bus is currently open.
func (s *Sensor) IsConnected() bool {
	return s.connected
}
