package multiplexer_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snowmerak/modhost/lib/multiplexer"
)

func TestNode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		seq  uint32
		data []byte
	}{
		{"empty data", 1, []byte{}},
		{"small data", 2, []byte("hello world")},
		{"exact chunk", 3, bytes.Repeat([]byte{0xAB}, multiplexer.MessageChunkSize)},
		{"large data", 4, bytes.Repeat([]byte("0123456789"), 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, writer := io.Pipe()
			defer reader.Close()
			defer writer.Close()

			node := multiplexer.NewNode(reader, writer, 1)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			messageCh, err := node.ReadMessage(ctx)
			if err != nil {
				t.Fatalf("ReadMessage failed: %v", err)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- node.WriteMessageWithSequence(ctx, tt.seq, tt.data)
			}()

			select {
			case msg := <-messageCh:
				if msg.Type != multiplexer.MessageTypeComplete {
					t.Fatalf("Expected complete message, got type %d (%s)", msg.Type, msg.Data)
				}
				if msg.ID != tt.seq {
					t.Errorf("Expected sequence %d, got %d", tt.seq, msg.ID)
				}
				if !bytes.Equal(msg.Data, tt.data) {
					t.Errorf("Expected %d bytes of data, got %d", len(tt.data), len(msg.Data))
				}
			case <-ctx.Done():
				t.Fatal("timeout waiting for message")
			}

			if err := <-errCh; err != nil {
				t.Errorf("WriteMessageWithSequence failed: %v", err)
			}
		})
	}
}

func TestNode_ReadMessage_EOF(t *testing.T) {
	reader, writer := io.Pipe()
	node := multiplexer.NewNode(reader, writer, 1)

	messageCh, err := node.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	writer.Close()

	select {
	case msg, ok := <-messageCh:
		if ok {
			t.Errorf("Expected channel to close, but received message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel to close")
	}
}

func TestNode_VersionMismatch(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	sender := multiplexer.NewNode(nil, writer, 2)
	receiver := multiplexer.NewNode(reader, nil, 1)

	messageCh, err := receiver.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	go sender.WriteMessage(context.Background(), []byte("hello"))

	select {
	case msg := <-messageCh:
		if msg.Type != multiplexer.MessageTypeError {
			t.Fatalf("Expected error message, got type %d", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error message")
	}

	select {
	case _, ok := <-messageCh:
		if ok {
			t.Error("Expected channel to close after a framing error")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel to close")
	}
	reader.Close()
}

func TestNode_InvalidFrameType(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	messageCh, err := node.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	go func() {
		header, _ := multiplexer.FrameHeader{Version: 1, Type: 0xFF, Sequence: 1}.MarshalBinary()
		writer.Write(header)
	}()

	select {
	case msg := <-messageCh:
		if msg.Type != multiplexer.MessageTypeError {
			t.Errorf("Expected error message for invalid type, got type %d", msg.Type)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for error message")
	}
	reader.Close()
}

func TestNode_AbortOnCancelledWrite(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer, 1)
	messageCh, err := node.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- node.WriteMessageWithSequence(ctx, 7, []byte("test data"))
	}()

	select {
	case msg := <-messageCh:
		if msg.Type != multiplexer.MessageTypeAbort || msg.ID != 7 {
			t.Errorf("Expected abort for sequence 7, got type %d id %d", msg.Type, msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for abort")
	}

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if node.GetPendingMessageCount() != 0 {
		t.Errorf("Expected no pending messages, got %d", node.GetPendingMessageCount())
	}
}

func TestNode_ConcurrentWriters(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messageCh, err := node.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	const numMessages = 10
	var wg sync.WaitGroup
	for i := 0; i < numMessages; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data := bytes.Repeat([]byte(fmt.Sprintf("%d", i)), 2500)
			if err := node.WriteMessage(ctx, data); err != nil {
				t.Errorf("WriteMessage failed: %v", err)
			}
		}()
	}

	seen := make(map[uint32]bool)
	for len(seen) < numMessages {
		select {
		case msg := <-messageCh:
			if msg.Type != multiplexer.MessageTypeComplete {
				t.Fatalf("Expected complete message, got type %d (%s)", msg.Type, msg.Data)
			}
			if len(msg.Data) != 2500 || !bytes.Equal(msg.Data, bytes.Repeat(msg.Data[:1], 2500)) {
				t.Fatalf("message %d was corrupted", msg.ID)
			}
			seen[msg.ID] = true
		case <-ctx.Done():
			t.Fatalf("timeout after %d messages", len(seen))
		}
	}
	wg.Wait()

	metrics := node.GetMetrics()
	if metrics.MessagesWritten != numMessages || metrics.MessagesRead != numMessages {
		t.Errorf("Expected %d messages each way, got %+v", numMessages, metrics)
	}
}

func TestNode_MessageTooLarge(t *testing.T) {
	mux := multiplexer.NewWithConfig(nil, io.Discard, multiplexer.Config{MaxMessageSize: 16})

	err := mux.WriteMessage(context.Background(), make([]byte, 17))
	if err == nil {
		t.Fatal("Expected error for oversized message")
	}
}

func TestFrameHeader_Layout(t *testing.T) {
	h := multiplexer.FrameHeader{Version: 1, Type: multiplexer.FrameTypeData, Sequence: 0x01020304, Length: 0x0A0B0C0D}
	got, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	want := []byte{0x01, 0x03, 0x01, 0x02, 0x03, 0x04, 0x0A, 0x0B, 0x0C, 0x0D}
	if !bytes.Equal(got, want) {
		t.Errorf("Expected %x, got %x", want, got)
	}

	var decoded multiplexer.FrameHeader
	if err := decoded.UnmarshalBinary(got); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if decoded != h {
		t.Errorf("Expected %+v, got %+v", h, decoded)
	}
	if err := decoded.UnmarshalBinary(got[:4]); err == nil {
		t.Error("Expected error for short header")
	}
}

func TestNode_TooManyPending(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	mux := multiplexer.NewWithConfig(reader, nil, multiplexer.Config{MaxPending: 2})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	messageCh, err := mux.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	go func() {
		for seq := uint32(1); seq <= 3; seq++ {
			header, _ := multiplexer.FrameHeader{
				Version:  1,
				Type:     multiplexer.FrameTypeStart,
				Sequence: seq,
				Length:   multiplexer.DefaultMaxMessageSize,
			}.MarshalBinary()
			if _, err := writer.Write(header); err != nil {
				return
			}
		}
	}()

	select {
	case msg := <-messageCh:
		if msg.Type != multiplexer.MessageTypeError {
			t.Fatalf("Expected error message, got type %d", msg.Type)
		}
		if !strings.Contains(string(msg.Data), multiplexer.ErrTooManyPending.Error()) {
			t.Errorf("Expected %q, got %q", multiplexer.ErrTooManyPending, msg.Data)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for error message")
	}
	reader.Close()
}
