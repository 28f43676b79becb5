package sds011

// Validate reports whether reply is an acceptable answer to request
// (base spec §4.3). It only checks semantic agreement between the two
// messages; matching the reply to the in-flight request by type/op/id is
// the engine's job (§4.4).
func Validate(request, reply Message) bool {
	if reply.Type != request.Type {
		return false
	}
	if reply.Op != request.Op {
		return false
	}
	if reply.Op == OpGet {
		return true
	}

	switch request.Type {
	case MsgTypeRepMode:
		return reply.RepMode == request.RepMode
	case MsgTypeDevID:
		return reply.DevID == request.DevIDSet.NewID
	case MsgTypeSleep:
		return reply.Sleep == request.Sleep
	case MsgTypeOpMode:
		return reply.OpMode.Mode == request.OpMode.Mode && reply.OpMode.Interval == request.OpMode.Interval
	default:
		return true
	}
}
