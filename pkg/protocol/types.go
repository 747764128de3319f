package protocol

// Message types (fits in uint8)
const (
	MsgUnknown uint8 = iota
	MsgData          // application payload
	MsgPing          // liveness check, answered by MsgPong
	MsgPong
	MsgClose // sender will not send further frames
)

// Flags bitmask (uint8)
const (
	FlagAck   uint8 = 1 << 0 // reply requested
	FlagFinal uint8 = 1 << 1 // last frame of a message
)

// Content types of the built-in codecs.
const (
	ContentUnknown = "application/octet-stream"
	ContentCBOR    = "application/cbor"
	ContentJSON    = "application/json"
	ContentProto   = "application/x-protobuf"
)
