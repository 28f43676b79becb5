package sds011

// ParseResult is the outcome of feeding one byte to the Parser.
type ParseResult int

const (
	ParseRunning ParseResult = iota
	ParseReady
	ParseError
)

type parserState int

const (
	stateBeg parserState = iota
	stateCmd
	stateData
	stateCRC
	stateEnd
)

// Parser is a byte-sink framing and payload state machine (base spec
// §4.1). It owns no dynamic memory: the data buffer is a fixed [15]byte
// array sized for the largest frame (the host-query payload).
type Parser struct {
	state    parserState
	cmd      uint8
	dataLen  int
	dataIdx  int
	checksum uint8
	data     [HostQueryDataSize]byte

	msg Message
	err *Error
}

// NewParser returns an initialized Parser.
func NewParser() *Parser {
	p := &Parser{}
	p.Init()
	return p
}

// Init zeroes all parser state and clears the latched error.
func (p *Parser) Init() {
	*p = Parser{}
}

func (p *Parser) reset() {
	p.state = stateBeg
	p.cmd = 0
	p.dataLen = 0
	p.dataIdx = 0
	p.checksum = 0
}

func dataLenForCmd(cmd uint8) int {
	switch cmd {
	case CmdHostQuery:
		return HostQueryDataSize
	case CmdSensorRepl, CmdSensorData:
		return SensorReplyDataSize
	default:
		return 0
	}
}

// Parse feeds one byte into the state machine.
func (p *Parser) Parse(b byte) ParseResult {
	switch p.state {
	case stateBeg:
		if b != FrameBeg {
			return p.fail(ErrParserFrameBeg)
		}
		p.state = stateCmd

	case stateCmd:
		n := dataLenForCmd(b)
		if n == 0 {
			return p.fail(ErrParserCmd)
		}
		p.cmd = b
		p.dataLen = n
		p.dataIdx = 0
		p.state = stateData

	case stateData:
		p.data[p.dataIdx] = b
		p.checksum += b
		p.dataIdx++
		if p.dataIdx >= p.dataLen {
			p.state = stateCRC
		}

	case stateCRC:
		if b != p.checksum {
			return p.fail(ErrParserCRC)
		}
		p.state = stateEnd

	case stateEnd:
		if b != FrameEnd {
			return p.fail(ErrParserFrameEnd)
		}
		return p.complete()

	default:
		p.reset()
	}

	return ParseRunning
}

func (p *Parser) fail(e *Error) ParseResult {
	p.reset()
	p.err = e
	return ParseError
}

func (p *Parser) complete() ParseResult {
	msg, err := decodeMessage(p.cmd, p.data[:p.dataLen])
	p.reset()
	if err != nil {
		p.err = err
		return ParseError
	}
	p.msg = msg
	p.err = nil
	return ParseReady
}

// Message returns a copy of the last decoded message. Only meaningful
// immediately after Parse returns ParseReady.
func (p *Parser) Message() Message {
	return p.msg
}

// LastError returns the latched error code, held until the next
// successful completion.
func (p *Parser) LastError() *Error {
	return p.err
}

func value16(hi, lo byte) uint16 {
	return uint16(hi)<<8 | uint16(lo)
}

// decodeMessage dispatches on the message-type tag (data[0], except for
// a sensor sample reply where the command byte itself selects DATA) and
// fills in a Message per base spec §4.1.
func decodeMessage(cmd uint8, data []byte) (Message, *Error) {
	msgType := MsgType(data[0])
	if cmd == CmdSensorData {
		msgType = MsgTypeData
	}

	switch msgType {
	case MsgTypeRepMode:
		return decodeRepMode(cmd, data)
	case MsgTypeData:
		return decodeData(cmd, data)
	case MsgTypeDevID:
		return decodeDevID(cmd, data)
	case MsgTypeSleep:
		return decodeSleep(cmd, data)
	case MsgTypeFwVer:
		return decodeFwVer(cmd, data)
	case MsgTypeOpMode:
		return decodeOpMode(cmd, data)
	default:
		return Message{}, ErrInvalidMsgType
	}
}

func decodeRepMode(cmd uint8, data []byte) (Message, *Error) {
	op := MsgOp(data[1])
	rm := RepMode(data[2])
	if op != OpGet && op != OpSet {
		return Message{}, ErrInvalidData
	}
	if rm != RepModeActive && rm != RepModeQuery {
		return Message{}, ErrInvalidData
	}

	msg := Message{Type: MsgTypeRepMode, Op: op, RepMode: rm}
	if cmd == CmdHostQuery {
		msg.DevID = value16(data[13], data[14])
		msg.Source = SrcHost
	} else {
		msg.DevID = value16(data[4], data[5])
		msg.Source = SrcSensor
	}
	return msg, nil
}

func decodeData(cmd uint8, data []byte) (Message, *Error) {
	msg := Message{Type: MsgTypeData, Op: OpGet}
	if cmd == CmdHostQuery {
		msg.DevID = value16(data[13], data[14])
		msg.Source = SrcHost
		return msg, nil
	}
	// CmdSensorData
	msg.DevID = value16(data[4], data[5])
	msg.Source = SrcSensor
	msg.Sample.PM2_5 = value16(data[1], data[0])
	msg.Sample.PM10 = value16(data[3], data[2])
	return msg, nil
}

func decodeDevID(cmd uint8, data []byte) (Message, *Error) {
	msg := Message{Type: MsgTypeDevID, Op: OpSet}
	if cmd == CmdHostQuery {
		msg.DevID = value16(data[13], data[14])
		msg.Source = SrcHost
		msg.DevIDSet.NewID = value16(data[11], data[12])
		return msg, nil
	}
	msg.DevID = value16(data[4], data[5])
	msg.Source = SrcSensor
	return msg, nil
}

func decodeSleep(cmd uint8, data []byte) (Message, *Error) {
	op := MsgOp(data[1])
	sl := Sleep(data[2])
	if op != OpGet && op != OpSet {
		return Message{}, ErrInvalidData
	}
	if sl != SleepOn && sl != SleepOff {
		return Message{}, ErrInvalidData
	}

	msg := Message{Type: MsgTypeSleep, Op: op, Sleep: sl}
	if cmd == CmdHostQuery {
		msg.DevID = value16(data[13], data[14])
		msg.Source = SrcHost
	} else {
		msg.DevID = value16(data[4], data[5])
		msg.Source = SrcSensor
	}
	return msg, nil
}

func decodeFwVer(cmd uint8, data []byte) (Message, *Error) {
	msg := Message{Type: MsgTypeFwVer, Op: OpGet}
	if cmd == CmdHostQuery {
		msg.DevID = value16(data[13], data[14])
		msg.Source = SrcHost
		return msg, nil
	}
	msg.DevID = value16(data[4], data[5])
	msg.Source = SrcSensor
	msg.FwVer = FwVerPayload{Year: data[1], Month: data[2], Day: data[3]}
	return msg, nil
}

const maxOpModeInterval = 30

func decodeOpMode(cmd uint8, data []byte) (Message, *Error) {
	op := MsgOp(data[1])
	interval := data[2]
	if op != OpGet && op != OpSet {
		return Message{}, ErrInvalidData
	}
	if interval > maxOpModeInterval {
		return Message{}, ErrInvalidData
	}

	mode := OpModeContinuous
	if interval != 0 {
		mode = OpModeInterval
	}

	msg := Message{Type: MsgTypeOpMode, Op: op, OpMode: OpModePayload{Mode: mode, Interval: interval}}
	if cmd == CmdHostQuery {
		msg.DevID = value16(data[13], data[14])
		msg.Source = SrcHost
	} else {
		msg.DevID = value16(data[4], data[5])
		msg.Source = SrcSensor
	}
	return msg, nil
}
