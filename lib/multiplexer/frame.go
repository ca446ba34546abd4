package multiplexer

import (
	"encoding/binary"
	"fmt"
)

const (
	// 1 byte protocol version, 1 byte frame type, 4 bytes sequence, 4 bytes length
	FrameHeaderSize = 10

	FrameTypeStart = uint8(0x01) // Opens a message; length is the total payload size
	FrameTypeEnd   = uint8(0x02) // Closes a message
	FrameTypeData  = uint8(0x03) // One chunk of payload
	FrameTypeAbort = uint8(0x06) // Discards a partially sent message

	// Message types delivered by ReadMessage only.
	MessageTypeComplete = uint8(0x05)
	MessageTypeAbort    = FrameTypeAbort
	MessageTypeError    = uint8(0x04)
)

const (
	// MessageChunkSize is the largest payload carried by one Data frame.
	MessageChunkSize = 1024

	// DefaultMaxMessageSize bounds a reassembled message.
	DefaultMaxMessageSize = 10 * 1024 * 1024

	// DefaultMaxPending bounds the messages being reassembled at once.
	DefaultMaxPending = 64
)

// FrameHeader is the fixed-size prefix of every frame.
type FrameHeader struct {
	Version  uint8
	Type     uint8
	Sequence uint32
	Length   uint32
}

// MarshalBinary encodes the header in network byte order.
func (h FrameHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameHeaderSize)
	h.put(buf)
	return buf, nil
}

func (h FrameHeader) put(buf []byte) {
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint32(buf[2:6], h.Sequence)
	binary.BigEndian.PutUint32(buf[6:10], h.Length)
}

// UnmarshalBinary decodes a header produced by MarshalBinary.
func (h *FrameHeader) UnmarshalBinary(data []byte) error {
	if len(data) < FrameHeaderSize {
		return fmt.Errorf("frame header too short: %d bytes", len(data))
	}
	h.Version = data[0]
	h.Type = data[1]
	h.Sequence = binary.BigEndian.Uint32(data[2:6])
	h.Length = binary.BigEndian.Uint32(data[6:10])
	return nil
}
