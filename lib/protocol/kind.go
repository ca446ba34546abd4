// Package protocol defines the remote-control messages exchanged between a
// host and its front-ends, and their protobuf wire encoding.
package protocol

// Version is the protocol version carried in every envelope and frame.
const Version = 1

// Kind tags an envelope.
type Kind uint8

const (
	KindHello      Kind = 0x01 // Opens a connection; carries the secret
	KindLoad       Kind = 0x02
	KindUnload     Kind = 0x03
	KindSuspend    Kind = 0x04
	KindResume     Kind = 0x05
	KindListLoaded Kind = 0x06

	KindAck     Kind = 0x10 // Acknowledgement of a request
	KindModList Kind = 0x11 // Reply to ListLoaded
	KindFault   Kind = 0x12 // Failed request, or unsolicited when Key is 0
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindLoad:
		return "Load"
	case KindUnload:
		return "Unload"
	case KindSuspend:
		return "Suspend"
	case KindResume:
		return "Resume"
	case KindListLoaded:
		return "ListLoaded"
	case KindAck:
		return "Ack"
	case KindModList:
		return "ModList"
	case KindFault:
		return "Fault"
	default:
		return "Unknown"
	}
}

// IsRequest reports whether k is sent by a client after Hello.
func (k Kind) IsRequest() bool {
	return k >= KindLoad && k <= KindListLoaded
}

// IsResponse reports whether k is sent by a server.
func (k Kind) IsResponse() bool {
	return k == KindAck || k == KindModList || k == KindFault
}
