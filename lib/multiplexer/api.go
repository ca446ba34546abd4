// Package multiplexer frames sequence-tagged messages over a byte stream.
//
// A message travels as a Start frame announcing its length, Data frames of
// at most MessageChunkSize bytes, and an End frame. A writer that gives up
// part way sends Abort instead of End. Every frame carries the protocol
// version so a mismatched peer is detected on the first frame.
package multiplexer

import (
	"context"
	"io"
)

// Multiplexer provides a unified interface for message multiplexing
type Multiplexer interface {
	// WriteMessage sends a message with automatic sequence numbering
	WriteMessage(ctx context.Context, data []byte) error

	// WriteMessageWithSequence sends a message with a specific sequence number
	WriteMessageWithSequence(ctx context.Context, seq uint32, data []byte) error

	// ReadMessage reads messages and returns a channel
	ReadMessage(ctx context.Context) (chan *Message, error)

	// Close cleanly shuts down the multiplexer
	Close() error

	// GetPendingMessageCount returns the number of pending messages
	GetPendingMessageCount() int

	// GetMetrics returns traffic counters
	GetMetrics() *Metrics
}

// Metrics contains traffic counters.
type Metrics struct {
	MessagesWritten uint64
	MessagesRead    uint64
	BytesWritten    uint64
	BytesRead       uint64
}

// Config holds configuration options for the multiplexer
type Config struct {
	// Version is written into, and required on, every frame (default: 1)
	Version uint8

	// MaxMessageSize sets the maximum allowed message size (default: 10MB)
	MaxMessageSize int

	// MaxPending sets how many messages may be partially received at once (default: 64)
	MaxPending int
}

var _ Multiplexer = (*Node)(nil)

// New creates a multiplexer framing with protocol version 1.
func New(reader io.Reader, writer io.Writer) Multiplexer {
	return NewWithConfig(reader, writer, Config{})
}

// NewWithConfig creates a multiplexer with custom configuration
func NewWithConfig(reader io.Reader, writer io.Writer, config Config) Multiplexer {
	if config.Version == 0 {
		config.Version = 1
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.MaxPending == 0 {
		config.MaxPending = DefaultMaxPending
	}

	node := NewNode(reader, writer, config.Version)
	node.maxMessageSize = config.MaxMessageSize
	node.maxPending = config.MaxPending
	return node
}
