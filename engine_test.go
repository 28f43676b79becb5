package sds011

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSerial struct {
	tx    []byte
	rx    []byte
	rxPos int
}

func (f *fakeSerial) BytesAvailable() uint { return uint(len(f.rx) - f.rxPos) }

func (f *fakeSerial) ReadByte() byte {
	b := f.rx[f.rxPos]
	f.rxPos++
	return b
}

func (f *fakeSerial) SendByte(b byte) bool {
	f.tx = append(f.tx, b)
	return true
}

func (f *fakeSerial) queueRx(b []byte) {
	f.rx = append(f.rx, b...)
}

func (f *fakeSerial) packetsSent() int {
	if len(f.tx) == 0 {
		return 0
	}
	return len(f.tx) / HostQueryPacketSize
}

// lastQueriedDevID reads the target device id out of the most recently
// transmitted host-query packet (bytes 15-16 of its 19-byte frame).
func (f *fakeSerial) lastQueriedDevID() uint16 {
	n := len(f.tx)
	last := f.tx[n-HostQueryPacketSize : n]
	return value16(last[15], last[16])
}

type fakeClock struct {
	ms uint32
}

func (c *fakeClock) Millis() uint32 { return c.ms }

func sensorDataReply(devID uint16, pm25, pm10 uint16) []byte {
	msg := Message{DevID: devID, Type: MsgTypeData, Source: SrcSensor}
	msg.Sample = SamplePayload{PM2_5: pm25, PM10: pm10}
	wire, err := Build(msg)
	if err != nil {
		panic(err)
	}
	return wire
}

func TestEngine_QueryData_SuccessRoundTrip(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, eerr := NewEngine(Config{MsgTimeout: 100, Retries: 1}, clock, serial, 4)
	require.Nil(eerr)

	var gotErr *Error
	var gotSample SamplePayload
	callbackCalled := false
	require.Nil(e.QueryData(0x1234, func(err *Error, msg *Message, _ any) {
		callbackCalled = true
		gotErr = err
		if msg != nil {
			gotSample = msg.Sample
		}
	}, nil))

	require.Nil(e.Process())
	require.Equal(1, serial.packetsSent(), "expected one host query packet to be sent")
	require.False(callbackCalled)

	serial.queueRx(sensorDataReply(0x1234, 55, 108))
	require.Nil(e.Process())

	require.True(callbackCalled)
	require.Nil(gotErr)
	require.Equal(uint16(55), gotSample.PM2_5)
	require.Equal(uint16(108), gotSample.PM10)
}

func TestEngine_TimeoutWithNoRetries(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 0}, clock, serial, 4)

	var gotErr *Error
	require.Nil(e.QueryData(0x1234, func(err *Error, _ *Message, _ any) { gotErr = err }, nil))
	require.Nil(e.Process())
	require.Equal(1, serial.packetsSent())

	clock.ms = 201
	require.Nil(e.Process())

	require.NotNil(gotErr)
	require.Equal(CodeTimeout, gotErr.Code)
	require.Equal(1, serial.packetsSent(), "no retry should have been attempted")
}

func TestEngine_RetriesExactlyRetriesPlusOneAttempts(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 2}, clock, serial, 4)

	var gotErr *Error
	require.Nil(e.QueryData(0x1234, func(err *Error, _ *Message, _ any) { gotErr = err }, nil))

	require.Nil(e.Process())
	require.Equal(1, serial.packetsSent())

	clock.ms += 101
	require.Nil(e.Process())
	require.Equal(2, serial.packetsSent())
	require.Nil(gotErr)

	clock.ms += 101
	require.Nil(e.Process())
	require.Equal(3, serial.packetsSent())
	require.Nil(gotErr)

	clock.ms += 101
	require.Nil(e.Process())
	require.Equal(3, serial.packetsSent(), "no fourth attempt: retries+1 exhausted")
	require.NotNil(gotErr)
	require.Equal(CodeTimeout, gotErr.Code)
}

func TestEngine_RetrySucceedsOnSecondAttempt(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 2}, clock, serial, 4)

	var gotErr *Error
	var gotSample SamplePayload
	require.Nil(e.QueryData(0x1234, func(err *Error, msg *Message, _ any) {
		gotErr = err
		if msg != nil {
			gotSample = msg.Sample
		}
	}, nil))

	require.Nil(e.Process())
	require.Equal(1, serial.packetsSent())

	clock.ms += 101
	require.Nil(e.Process())
	require.Equal(2, serial.packetsSent())

	serial.queueRx(sensorDataReply(0x1234, 10, 20))
	require.Nil(e.Process())

	require.Nil(gotErr)
	require.Equal(uint16(10), gotSample.PM2_5)
	require.Equal(uint16(20), gotSample.PM10)
}

func TestEngine_BusyOnFullQueue(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 0}, clock, serial, 1)

	require.Nil(e.QueryData(0x1111, func(*Error, *Message, any) {}, nil))

	var gotErr *Error
	err := e.QueryData(0x2222, func(e *Error, _ *Message, _ any) { gotErr = e }, nil)
	require.Equal(ErrBusy, err)
	require.Equal(ErrBusy, gotErr)
}

func TestEngine_SampleObserverReceivesUnsolicitedData(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 0}, clock, serial, 4)

	var observed []SamplePayload
	e.SetSampleObserver(func(msg Message) {
		observed = append(observed, msg.Sample)
	})

	serial.queueRx(sensorDataReply(0x0001, 42, 84))
	require.Nil(e.Process())

	require.Len(observed, 1)
	require.Equal(uint16(42), observed[0].PM2_5)
	require.Equal(uint16(84), observed[0].PM10)
}

func TestEngine_NewEngineRejectsNilCollaborators(t *testing.T) {
	require := require.New(t)
	_, err := NewEngine(Config{}, nil, &fakeSerial{}, 1)
	require.Equal(ErrInvalidParam, err)

	_, err = NewEngine(Config{}, &fakeClock{}, nil, 1)
	require.Equal(ErrInvalidParam, err)
}

// TestEngine_GetFirmwareVersion pins base spec §8 scenario 2: GET FW VER.
func TestEngine_GetFirmwareVersion(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 0}, clock, serial, 4)

	var gotErr *Error
	var gotFw FwVerPayload
	require.Nil(e.GetFirmwareVersion(0xA160, func(err *Error, msg *Message, _ any) {
		gotErr = err
		if msg != nil {
			gotFw = msg.FwVer
		}
	}, nil))

	require.Nil(e.Process())
	want := []byte{0xAA, 0xB4, 0x07, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xA1, 0x60, 0x08, 0xAB}
	require.Equal(want, serial.tx)

	serial.queueRx([]byte{0xAA, 0xC5, 0x07, 0x0F, 0x07, 0x0A, 0xA1, 0x60, 0x28, 0xAB})
	require.Nil(e.Process())

	require.Nil(gotErr)
	require.Equal(FwVerPayload{Year: 15, Month: 7, Day: 10}, gotFw)
}

// TestEngine_OpModeMismatchedReplyRetriesThenFails pins base spec §8
// scenario 3: the sensor keeps echoing the wrong interval, so every
// attempt is rejected by the validator as INVALID_REPLY; the callback
// fires exactly once, after retries+1 attempts.
func TestEngine_OpModeMismatchedReplyRetriesThenFails(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 2}, clock, serial, 4)

	var gotErr *Error
	callbacks := 0
	require.Nil(e.SetOpModePeriodic(0xA160, 1, func(err *Error, _ *Message, _ any) {
		callbacks++
		gotErr = err
	}, nil))

	wrongReply := func() {
		msg := Message{DevID: 0xA160, Type: MsgTypeOpMode, Op: OpSet, Source: SrcSensor}
		msg.OpMode = OpModePayload{Mode: OpModeInterval, Interval: 2}
		wire, berr := Build(msg)
		require.Nil(berr)
		serial.queueRx(wire)
	}

	for i := 0; i < 3; i++ {
		require.Nil(e.Process())
		wrongReply()
		require.Nil(e.Process())
	}

	require.Equal(1, callbacks, "callback must fire exactly once")
	require.NotNil(gotErr)
	require.Equal(CodeInvalidReply, gotErr.Code)
	require.Equal(3, serial.packetsSent(), "retries+1 total attempts")
}

// TestEngine_BroadcastSetDeviceID pins base spec §8 scenario 4: a
// broadcast SET DEV_ID is matched against the reply's echoed new id,
// not the broadcast address the request was sent to.
func TestEngine_BroadcastSetDeviceID(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 0}, clock, serial, 4)

	var gotErr *Error
	callbackCalled := false
	require.Nil(e.SetDeviceID(BroadcastDevID, 0xA001, func(err *Error, _ *Message, _ any) {
		callbackCalled = true
		gotErr = err
	}, nil))

	require.Nil(e.Process())
	require.Equal(uint8(0xA0), serial.tx[13])
	require.Equal(uint8(0x01), serial.tx[14])

	serial.queueRx([]byte{0xAA, 0xC5, 0x05, 0x00, 0x00, 0x00, 0xA0, 0x01, 0xA6, 0xAB})
	require.Nil(e.Process())

	require.True(callbackCalled)
	require.Nil(gotErr)
}

// TestEngine_ProcessSurfacesCRCErrorWithoutFailingInFlightRequest pins
// base spec §8 scenario 5: a parse error is returned from Process, but
// the in-flight request is left RUNNING rather than failed.
func TestEngine_ProcessSurfacesCRCErrorWithoutFailingInFlightRequest(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	e, _ := NewEngine(Config{MsgTimeout: 1000, Retries: 0}, clock, serial, 4)

	callbackCalled := false
	require.Nil(e.QueryData(0x1234, func(*Error, *Message, any) { callbackCalled = true }, nil))
	require.Nil(e.Process())

	serial.queueRx([]byte{0xAA, 0xC0, 0xD4, 0x04, 0x3A, 0x0A, 0xA1, 0x60, 0x1E, 0xAB})
	err := e.Process()
	require.NotNil(err)
	require.Equal(CodeParserCRC, err.Code)
	require.False(callbackCalled, "in-flight request must remain RUNNING after a parse error")
	require.Equal(statusRunning, e.status)
}

// TestEngine_QueueOverflow pins base spec §8 scenario 6: the K+1-th
// enqueue on a capacity-K queue returns BUSY synchronously, and the
// first K requests remain queued and eventually complete in order.
func TestEngine_QueueOverflow(t *testing.T) {
	require := require.New(t)
	serial := &fakeSerial{}
	clock := &fakeClock{}
	const capacity = 2
	e, _ := NewEngine(Config{MsgTimeout: 100, Retries: 0}, clock, serial, capacity)

	var completed []uint16
	for _, id := range []uint16{0x0001, 0x0002} {
		id := id
		require.Nil(e.QueryData(id, func(err *Error, _ *Message, _ any) {
			require.Nil(err)
			completed = append(completed, id)
		}, nil))
	}

	var overflowErr *Error
	err := e.QueryData(0x0003, func(err *Error, msg *Message, _ any) {
		overflowErr = err
		require.Nil(msg)
	}, nil)
	require.Equal(ErrBusy, err)
	require.Equal(ErrBusy, overflowErr)

	for range []int{0, 1} {
		require.Nil(e.Process())
		serial.queueRx(sensorDataReply(serial.lastQueriedDevID(), 1, 1))
		require.Nil(e.Process())
	}

	require.Equal([]uint16{0x0001, 0x0002}, completed)
}
