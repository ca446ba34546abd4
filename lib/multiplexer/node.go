package multiplexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

var (
	// ErrVersionMismatch is reported when a peer frames with another version.
	ErrVersionMismatch = errors.New("frame version mismatch")

	// ErrTooManyPending is reported when a peer opens more messages than
	// the node reassembles at once.
	ErrTooManyPending = errors.New("too many pending messages")
)

// Message is a reassembled message or a read error.
type Message struct {
	ID   uint32
	Data []byte
	Type uint8
}

// Node frames messages over a reader and a writer.
type Node struct {
	reader io.Reader
	writer io.Writer

	version        uint8
	maxMessageSize int
	maxPending     int

	writerLock sync.Mutex
	readerLock sync.RWMutex

	readBuffer map[uint32]*Message

	sequence atomic.Uint32
	metrics  nodeMetrics
}

type nodeMetrics struct {
	messagesWritten atomic.Uint64
	messagesRead    atomic.Uint64
	bytesWritten    atomic.Uint64
	bytesRead       atomic.Uint64
}

// NewNode creates a Node framing with the given protocol version.
func NewNode(reader io.Reader, writer io.Writer, version uint8) *Node {
	return &Node{
		reader:         reader,
		writer:         writer,
		version:        version,
		maxMessageSize: DefaultMaxMessageSize,
		maxPending:     DefaultMaxPending,
		readBuffer:     make(map[uint32]*Message),
	}
}

// ReadMessage starts reading frames and returns the channel of completed
// messages. A framing or I/O error is delivered as a MessageTypeError message,
// after which the channel is closed. io.EOF closes the channel silently.
func (n *Node) ReadMessage(ctx context.Context) (chan *Message, error) {
	const defaultMaxBufferLength = 64
	ch := make(chan *Message, defaultMaxBufferLength)

	go func() {
		defer close(ch)

		fail := func(err error) {
			select {
			case ch <- &Message{Type: MessageTypeError, Data: []byte(err.Error())}:
			case <-ctx.Done():
			}
		}

		header := make([]byte, FrameHeaderSize)
		chunk := make([]byte, MessageChunkSize)

		for {
			if ctx.Err() != nil {
				return
			}

			if _, err := io.ReadFull(n.reader, header); err != nil {
				if !errors.Is(err, io.EOF) {
					fail(err)
				}
				return
			}

			var h FrameHeader
			h.UnmarshalBinary(header)

			if h.Version != n.version {
				fail(fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, h.Version, n.version))
				return
			}

			msg, err := n.readFrame(h, chunk)
			if err != nil {
				fail(err)
				return
			}
			if msg == nil {
				continue
			}

			n.metrics.messagesRead.Add(1)
			n.metrics.bytesRead.Add(uint64(len(msg.Data)))
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// readFrame applies one frame to the read buffer and returns a message when
// the frame completes or aborts one.
func (n *Node) readFrame(h FrameHeader, chunk []byte) (*Message, error) {
	switch h.Type {
	case FrameTypeStart:
		if int(h.Length) > n.maxMessageSize {
			return nil, fmt.Errorf("message length %d exceeds maximum %d", h.Length, n.maxMessageSize)
		}

		n.readerLock.Lock()
		defer n.readerLock.Unlock()
		if _, exists := n.readBuffer[h.Sequence]; exists {
			return nil, fmt.Errorf("frame ID %d already exists", h.Sequence)
		}
		if len(n.readBuffer) >= n.maxPending {
			return nil, fmt.Errorf("%w: limit %d", ErrTooManyPending, n.maxPending)
		}
		// The declared length is untrusted; the buffer grows with the Data
		// frames that actually arrive.
		n.readBuffer[h.Sequence] = &Message{
			ID:   h.Sequence,
			Type: FrameTypeStart,
			Data: make([]byte, 0, min(int(h.Length), MessageChunkSize)),
		}
		return nil, nil

	case FrameTypeData:
		if h.Length > MessageChunkSize {
			return nil, fmt.Errorf("data frame of %d bytes exceeds chunk size %d", h.Length, MessageChunkSize)
		}
		if _, err := io.ReadFull(n.reader, chunk[:h.Length]); err != nil {
			return nil, fmt.Errorf("failed to read data: %w", err)
		}

		n.readerLock.Lock()
		defer n.readerLock.Unlock()
		m, ok := n.readBuffer[h.Sequence]
		if !ok {
			return nil, fmt.Errorf("unknown frame ID: %d", h.Sequence)
		}
		if len(m.Data)+int(h.Length) > n.maxMessageSize {
			delete(n.readBuffer, h.Sequence)
			return nil, fmt.Errorf("message size would exceed maximum: %d", n.maxMessageSize)
		}
		m.Data = append(m.Data, chunk[:h.Length]...)
		return nil, nil

	case FrameTypeEnd, FrameTypeAbort:
		n.readerLock.Lock()
		m, ok := n.readBuffer[h.Sequence]
		delete(n.readBuffer, h.Sequence)
		n.readerLock.Unlock()

		if !ok {
			return nil, fmt.Errorf("unknown frame ID: %d", h.Sequence)
		}
		if h.Type == FrameTypeEnd {
			m.Type = MessageTypeComplete
		} else {
			m.Type = MessageTypeAbort
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unknown frame type: %d", h.Type)
	}
}

func (n *Node) write(frameType uint8, seq uint32, length int, data []byte) error {
	if n.writer == nil {
		return fmt.Errorf("writer is nil")
	}

	buf := make([]byte, FrameHeaderSize+len(data))
	FrameHeader{
		Version:  n.version,
		Type:     frameType,
		Sequence: seq,
		Length:   uint32(length),
	}.put(buf)
	copy(buf[FrameHeaderSize:], data)

	if _, err := n.writer.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// WriteMessageWithSequence writes data as one message. Frames of one message
// are never interleaved with frames of another.
func (n *Node) WriteMessageWithSequence(ctx context.Context, seq uint32, data []byte) error {
	if len(data) > n.maxMessageSize {
		return fmt.Errorf("message length %d exceeds maximum %d", len(data), n.maxMessageSize)
	}

	n.writerLock.Lock()
	defer n.writerLock.Unlock()

	if err := n.write(FrameTypeStart, seq, len(data), nil); err != nil {
		return err
	}

	total := len(data)
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			if abortErr := n.write(FrameTypeAbort, seq, 0, nil); abortErr != nil {
				return fmt.Errorf("failed to write abort message: %w", abortErr)
			}
			return err
		}

		chunkSize := min(len(data), MessageChunkSize)
		if err := n.write(FrameTypeData, seq, chunkSize, data[:chunkSize]); err != nil {
			return err
		}
		data = data[chunkSize:]
	}

	if err := n.write(FrameTypeEnd, seq, 0, nil); err != nil {
		return err
	}

	n.metrics.messagesWritten.Add(1)
	n.metrics.bytesWritten.Add(uint64(total))
	return nil
}

// WriteMessage sends a message with automatic sequence numbering.
func (n *Node) WriteMessage(ctx context.Context, data []byte) error {
	return n.WriteMessageWithSequence(ctx, n.sequence.Add(1), data)
}

// Close drops partially received messages.
func (n *Node) Close() error {
	n.readerLock.Lock()
	defer n.readerLock.Unlock()
	clear(n.readBuffer)
	return nil
}

// GetPendingMessageCount returns the number of partially received messages.
func (n *Node) GetPendingMessageCount() int {
	n.readerLock.RLock()
	defer n.readerLock.RUnlock()
	return len(n.readBuffer)
}

// GetMetrics returns the node's counters.
func (n *Node) GetMetrics() *Metrics {
	return &Metrics{
		MessagesWritten: n.metrics.messagesWritten.Load(),
		MessagesRead:    n.metrics.messagesRead.Load(),
		BytesWritten:    n.metrics.bytesWritten.Load(),
		BytesRead:       n.metrics.bytesRead.Load(),
	}
}
