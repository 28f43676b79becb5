package sds011

// Serial is the transport capability the engine consumes (base spec §6):
// byte availability, single-byte read, single-byte send. Implementations
// live in host/serial; the engine never imports a concrete transport.
type Serial interface {
	BytesAvailable() uint
	ReadByte() byte
	SendByte(b byte) bool
}

// Clock is the monotonic millisecond time source capability. Overflow is
// tolerated by the engine through unsigned subtraction modulo 2^32.
type Clock interface {
	Millis() uint32
}

// SampleObserver receives every DATA-typed message the parser decodes,
// whether or not a request is currently in flight.
type SampleObserver func(msg Message)

// Config holds the engine's tunables (base spec §6).
type Config struct {
	// MsgTimeout is the per-attempt deadline in milliseconds; 0 disables
	// the timeout entirely (wait forever).
	MsgTimeout uint32
	// Retries is the number of additional attempts allowed after the
	// first failure of a non-critical send or validation.
	Retries uint32
}

type requestStatus int

const (
	statusIdle requestStatus = iota
	statusRunning
	statusSuccess
	statusFailure
)

// Engine owns a bounded FIFO of pending requests and drives a single
// in-flight request through send -> await-reply -> validate -> confirm
// or retry-on-timeout (base spec §4.4). It exposes exactly one poll
// entry point, Process; there is no internal thread or timer (§5).
type Engine struct {
	cfg    Config
	clock  Clock
	serial Serial
	parser *Parser

	sampleObserver SampleObserver

	queue  *requestQueue
	active Request

	status    requestStatus
	critical  bool
	retry     uint32
	startTime uint32
	lastErr   *Error
	replyMsg  Message
}

// NewEngine constructs an Engine with a FIFO sized for queueCapacity
// pending requests. clock and serial are required capabilities.
func NewEngine(cfg Config, clock Clock, serial Serial, queueCapacity int) (*Engine, *Error) {
	if clock == nil || serial == nil {
		return nil, ErrInvalidParam
	}
	return &Engine{
		cfg:    cfg,
		clock:  clock,
		serial: serial,
		parser: NewParser(),
		queue:  newRequestQueue(queueCapacity),
		status: statusIdle,
	}, nil
}

// SetSampleObserver registers obs as the sink for unsolicited DATA
// messages. A nil obs disables delivery; registering again replaces any
// prior observer.
func (e *Engine) SetSampleObserver(obs SampleObserver) {
	if e == nil {
		return
	}
	e.sampleObserver = obs
}

// Process is the single poll entry point: it drains available serial
// bytes through the parser, advances the in-flight request's state
// machine, and drains the queue when idle (base spec §4.4 "Per-poll
// algorithm"). It must be called by the host frequently enough to meet
// the configured message timeout.
func (e *Engine) Process() *Error {
	if e == nil {
		return ErrInvalidParam
	}

	if perr := e.drainSerial(); perr != nil {
		return perr
	}

	if e.status == statusRunning && e.cfg.MsgTimeout != 0 {
		if e.clock.Millis()-e.startTime > e.cfg.MsgTimeout {
			e.status = statusFailure
			e.lastErr = ErrTimeout
			e.critical = false
		}
	}

	if e.status == statusSuccess {
		e.finish(nil, &e.replyMsg)
	}

	if e.status == statusFailure {
		if e.critical {
			e.finish(e.lastErr, nil)
		} else {
			e.retry++
			if e.retry > e.cfg.Retries {
				e.finish(e.lastErr, nil)
			} else {
				e.sendActive()
			}
		}
	}

	if e.status == statusIdle {
		if req, ok := e.queue.pop(); ok {
			e.active = req
			e.retry = 0
			e.sendActive()
		}
	}

	return nil
}

// drainSerial feeds every currently-available byte through the parser.
// A parse ERROR aborts draining for this poll and is returned to the
// caller; it does not, by itself, fail the in-flight request (§7).
func (e *Engine) drainSerial() *Error {
	n := e.serial.BytesAvailable()
	for i := uint(0); i < n; i++ {
		b := e.serial.ReadByte()
		switch e.parser.Parse(b) {
		case ParseReady:
			msg := e.parser.Message()
			if msg.Type == MsgTypeData && e.sampleObserver != nil {
				e.sampleObserver(msg)
			}
			e.matchReply(msg)
		case ParseError:
			return e.parser.LastError()
		}
	}
	return nil
}

// matchReply consults the in-flight request, if any, against a freshly
// decoded message (base spec §4.4 "Matching a received reply").
func (e *Engine) matchReply(msg Message) {
	if e.status != statusRunning {
		return
	}
	req := e.active.Msg
	if msg.Type != req.Type || msg.Op != req.Op {
		return
	}

	if req.Type == MsgTypeDevID {
		if msg.DevID != req.DevIDSet.NewID {
			return
		}
	} else if req.DevID != BroadcastDevID {
		if msg.DevID != req.DevID {
			return
		}
	}

	if !Validate(req, msg) {
		e.status = statusFailure
		e.lastErr = ErrInvalidReply
		e.critical = false
		return
	}

	e.replyMsg = msg
	e.status = statusSuccess
}

// sendActive serializes and transmits the active request's message,
// entering RUNNING on success or a FAILURE status on a builder or
// transport error (base spec §4.4 "send_active_message").
func (e *Engine) sendActive() {
	e.status = statusRunning
	e.critical = false
	e.startTime = e.clock.Millis()

	data, berr := Build(e.active.Msg)
	if berr != nil {
		e.status = statusFailure
		e.lastErr = berr
		e.critical = true
		return
	}

	for _, b := range data {
		if !e.sendByteWithTimeout(b) {
			e.status = statusFailure
			e.lastErr = ErrSendData
			e.critical = false
			return
		}
	}
}

// sendByteWithTimeout busy-loops the serial send primitive until it
// accepts b, bounded by MsgTimeout measured against startTime.
func (e *Engine) sendByteWithTimeout(b byte) bool {
	for {
		if e.serial.SendByte(b) {
			return true
		}
		if e.cfg.MsgTimeout != 0 && e.clock.Millis()-e.startTime > e.cfg.MsgTimeout {
			return false
		}
	}
}

// finish invokes the active request's callback exactly once and returns
// the engine to IDLE.
func (e *Engine) finish(err *Error, msg *Message) {
	req := e.active
	e.active = Request{}
	e.status = statusIdle
	if req.Callback != nil {
		req.Callback(err, msg, req.UserData)
	}
}

// enqueue pushes a host-originated request onto the FIFO. A full queue
// fails with BUSY, invoking cb synchronously with a nil message, rather
// than queuing.
func (e *Engine) enqueue(msg Message, cb RequestCallback, userData any) *Error {
	if e == nil {
		return ErrInvalidParam
	}
	if !e.queue.push(Request{Msg: msg, Callback: cb, UserData: userData}) {
		if cb != nil {
			cb(ErrBusy, nil, userData)
		}
		return ErrBusy
	}
	return nil
}

// QueryData requests the current particulate reading from devID.
func (e *Engine) QueryData(devID uint16, cb RequestCallback, userData any) *Error {
	return e.enqueue(Message{DevID: devID, Type: MsgTypeData, Op: OpGet, Source: SrcHost}, cb, userData)
}

// SetDeviceID reassigns devID's wire address to newID.
func (e *Engine) SetDeviceID(devID, newID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeDevID, Op: OpSet, Source: SrcHost}
	msg.DevIDSet.NewID = newID
	return e.enqueue(msg, cb, userData)
}

// SetReportingModeActive switches devID to unsolicited (active) sample
// reporting.
func (e *Engine) SetReportingModeActive(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeRepMode, Op: OpSet, Source: SrcHost, RepMode: RepModeActive}
	return e.enqueue(msg, cb, userData)
}

// SetReportingModeQuery switches devID to manual (query-on-demand)
// reporting.
func (e *Engine) SetReportingModeQuery(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeRepMode, Op: OpSet, Source: SrcHost, RepMode: RepModeQuery}
	return e.enqueue(msg, cb, userData)
}

// GetReportingMode retrieves devID's current reporting mode.
func (e *Engine) GetReportingMode(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeRepMode, Op: OpGet, Source: SrcHost}
	return e.enqueue(msg, cb, userData)
}

// SetSleepOn puts devID to sleep.
func (e *Engine) SetSleepOn(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeSleep, Op: OpSet, Source: SrcHost, Sleep: SleepOn}
	return e.enqueue(msg, cb, userData)
}

// SetSleepOff wakes devID.
func (e *Engine) SetSleepOff(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeSleep, Op: OpSet, Source: SrcHost, Sleep: SleepOff}
	return e.enqueue(msg, cb, userData)
}

// GetSleep retrieves devID's current sleep state.
func (e *Engine) GetSleep(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeSleep, Op: OpGet, Source: SrcHost}
	return e.enqueue(msg, cb, userData)
}

// SetOpModeContinuous switches devID to continuous sampling.
func (e *Engine) SetOpModeContinuous(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeOpMode, Op: OpSet, Source: SrcHost}
	msg.OpMode = OpModePayload{Mode: OpModeContinuous, Interval: 0}
	return e.enqueue(msg, cb, userData)
}

// SetOpModePeriodic switches devID to interval sampling, waking every
// interval minutes (1..30).
func (e *Engine) SetOpModePeriodic(devID uint16, interval uint8, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeOpMode, Op: OpSet, Source: SrcHost}
	msg.OpMode = OpModePayload{Mode: OpModeInterval, Interval: interval}
	return e.enqueue(msg, cb, userData)
}

// GetOpMode retrieves devID's current duty-cycle mode.
func (e *Engine) GetOpMode(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeOpMode, Op: OpGet, Source: SrcHost}
	return e.enqueue(msg, cb, userData)
}

// GetFirmwareVersion retrieves devID's firmware build date.
func (e *Engine) GetFirmwareVersion(devID uint16, cb RequestCallback, userData any) *Error {
	msg := Message{DevID: devID, Type: MsgTypeFwVer, Op: OpGet, Source: SrcHost}
	return e.enqueue(msg, cb, userData)
}
