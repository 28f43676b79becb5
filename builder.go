package sds011

// Build serializes msg into the bit-exact wire layout for its Source
// (base spec §4.2). It returns the encoded packet and a nil error, or a
// nil slice and a non-nil *Error. The returned slice is always freshly
// allocated and fully zero-filled before its fields are set, mirroring
// the original C builder's memset-then-fill discipline (see
// SPEC_FULL.md §9) even though Go needs no caller-provided buffer.
func Build(msg Message) ([]byte, *Error) {
	switch msg.Source {
	case SrcHost:
		return buildHost(msg)
	case SrcSensor:
		return buildSensor(msg)
	default:
		return nil, ErrInvalidSrc
	}
}

func buildHost(msg Message) ([]byte, *Error) {
	buf := make([]byte, HostQueryPacketSize)
	buf[0] = FrameBeg
	buf[1] = CmdHostQuery
	buf[2] = uint8(msg.Type)

	switch msg.Type {
	case MsgTypeRepMode:
		buf[3] = uint8(msg.Op)
		buf[4] = uint8(msg.RepMode)
	case MsgTypeData:
		// no op/value bytes; GET only
	case MsgTypeDevID:
		buf[3] = uint8(OpSet)
		setDevID16(buf, 13, msg.DevIDSet.NewID)
	case MsgTypeSleep:
		buf[3] = uint8(msg.Op)
		buf[4] = uint8(msg.Sleep)
	case MsgTypeFwVer:
		// GET only, no value bytes
	case MsgTypeOpMode:
		buf[3] = uint8(msg.Op)
		buf[4] = msg.OpMode.Interval
	default:
		return nil, ErrInvalidMsgType
	}

	setDevID16(buf, 15, msg.DevID)
	buf[17] = sum8(buf[2:17])
	buf[18] = FrameEnd
	return buf, nil
}

func buildSensor(msg Message) ([]byte, *Error) {
	if msg.Type == MsgTypeData {
		buf := make([]byte, SensorReplyPacketSize)
		buf[0] = FrameBeg
		buf[1] = CmdSensorData
		buf[2] = uint8(msg.Sample.PM2_5 & 0xFF)
		buf[3] = uint8(msg.Sample.PM2_5 >> 8)
		buf[4] = uint8(msg.Sample.PM10 & 0xFF)
		buf[5] = uint8(msg.Sample.PM10 >> 8)
		setDevID16(buf, 6, msg.DevID)
		buf[8] = sum8(buf[2:8])
		buf[9] = FrameEnd
		return buf, nil
	}

	buf := make([]byte, SensorReplyPacketSize)
	buf[0] = FrameBeg
	buf[1] = CmdSensorRepl
	buf[2] = uint8(msg.Type)

	switch msg.Type {
	case MsgTypeRepMode:
		buf[3] = uint8(msg.Op)
		buf[4] = uint8(msg.RepMode)
	case MsgTypeDevID:
		buf[3] = uint8(OpSet)
	case MsgTypeSleep:
		buf[3] = uint8(msg.Op)
		buf[4] = uint8(msg.Sleep)
	case MsgTypeFwVer:
		buf[3] = uint8(msg.FwVer.Year)
		buf[4] = msg.FwVer.Month
		buf[5] = msg.FwVer.Day
	case MsgTypeOpMode:
		buf[3] = uint8(msg.Op)
		buf[4] = msg.OpMode.Interval
	default:
		return nil, ErrInvalidMsgType
	}

	setDevID16(buf, 6, msg.DevID)
	buf[8] = sum8(buf[2:8])
	buf[9] = FrameEnd
	return buf, nil
}

func setDevID16(buf []byte, pos int, id uint16) {
	buf[pos] = uint8(id >> 8)
	buf[pos+1] = uint8(id & 0xFF)
}

// sum8 is the unsigned 8-bit checksum: the truncated sum of the data
// bytes between the command byte and the checksum byte.
func sum8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc += b
	}
	return crc
}
