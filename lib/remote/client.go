package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/snowmerak/modhost/lib/discovery"
	"github.com/snowmerak/modhost/lib/mod"
	"github.com/snowmerak/modhost/lib/multiplexer"
	"github.com/snowmerak/modhost/lib/protocol"
)

// Client drives a remote registry.
type Client struct {
	netConn net.Conn
	mux     multiplexer.Multiplexer
	opts    clientOptions
	logger  *slog.Logger

	requestMutex    sync.Mutex
	pendingRequests map[uint32]chan *protocol.Envelope
	lastKey         uint32
	closed          bool

	done    chan struct{}
	doneErr error

	faultMutex sync.Mutex
	onFault    func(protocol.Fault)
	backlog    *queue.Queue
}

// Dial connects to addr and performs the handshake.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	c := &Client{
		netConn:         nc,
		mux:             multiplexer.NewWithConfig(nc, nc, multiplexer.Config{Version: protocol.Version}),
		opts:            o,
		logger:          o.logger.With("component", "remote-client", "addr", addr),
		pendingRequests: make(map[uint32]chan *protocol.Envelope),
		done:            make(chan struct{}),
		backlog:         queue.New(),
	}

	if err := c.handshake(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Connect finds the host published under pid and dials it on loopback.
func Connect(ctx context.Context, pid int, opts ...Option) (*Client, error) {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rec, err := discovery.Lookup(o.discoveryDir, pid)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(rec.Port)), opts...)
}

// IsHostPresent reports whether a host process published a listening endpoint
// under pid.
func IsHostPresent(pid int, opts ...Option) bool {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}
	_, err := discovery.Lookup(o.discoveryDir, pid)
	return err == nil
}

func (c *Client) handshake(ctx context.Context) error {
	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	data, err := protocol.Hello(c.opts.secret).MarshalBinary()
	if err != nil {
		return err
	}

	// The reader outlives the handshake, so it must not use ctx.
	msgs, err := c.mux.ReadMessage(context.Background())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := c.mux.WriteMessage(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var msg *multiplexer.Message
	select {
	case m, ok := <-msgs:
		if !ok {
			return fmt.Errorf("%w: connection closed during handshake", ErrTransport)
		}
		msg = m
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: handshake", ErrTimeout)
		}
		return ctx.Err()
	}

	if msg.Type == multiplexer.MessageTypeError {
		return fmt.Errorf("%w: %s", ErrTransport, msg.Data)
	}
	env, err := protocol.Decode(msg.Data)
	if err != nil {
		return err
	}
	switch env.Kind {
	case protocol.KindAck:
	case protocol.KindFault:
		return env.Fault().Err()
	default:
		return fmt.Errorf("%w: unexpected %s during handshake", ErrTransport, env.Kind)
	}

	go c.handleMessages(msgs)
	return nil
}

// handleMessages routes responses to their pending calls and faults to the
// fault handler until the connection ends.
func (c *Client) handleMessages(msgs chan *multiplexer.Message) {
	err := ErrClientClosed
	defer func() {
		c.requestMutex.Lock()
		c.closed = true
		c.doneErr = err
		c.requestMutex.Unlock()
		close(c.done)
		c.netConn.Close()
	}()

	for msg := range msgs {
		switch msg.Type {
		case multiplexer.MessageTypeError:
			if !c.isClosed() {
				err = fmt.Errorf("%w: %s", ErrTransport, msg.Data)
				c.logger.Warn("Connection lost", "error", err)
			}
			return
		case multiplexer.MessageTypeAbort:
			continue
		}

		env, decErr := protocol.Decode(msg.Data)
		if decErr != nil {
			c.logger.Warn("Dropping malformed response", "error", decErr)
			continue
		}
		if !env.Kind.IsResponse() {
			c.logger.Warn("Dropping unexpected message", "kind", env.Kind.String(), "key", env.Key)
			continue
		}

		if env.Kind == protocol.KindFault {
			c.reportFault(env.Fault())
			if env.Key == 0 {
				continue
			}
		}

		c.requestMutex.Lock()
		ch, exists := c.pendingRequests[env.Key]
		c.requestMutex.Unlock()

		if !exists {
			c.logger.Debug("Dropping late response", "key", env.Key, "kind", env.Kind.String())
			continue
		}
		select {
		case ch <- env:
		default:
		}
	}

	if !c.isClosed() {
		err = fmt.Errorf("%w: connection closed by host", ErrTransport)
	}
}

func (c *Client) isClosed() bool {
	c.requestMutex.Lock()
	defer c.requestMutex.Unlock()
	return c.closed
}

// OnFault sets the handler for faults reported by the host. Faults queued
// while no handler was set are delivered to it first.
func (c *Client) OnFault(handler func(protocol.Fault)) {
	c.faultMutex.Lock()
	c.onFault = handler
	var queued []protocol.Fault
	if handler != nil {
		queued = c.drainLocked()
	}
	c.faultMutex.Unlock()

	for _, f := range queued {
		handler(f)
	}
}

// DrainFaults returns and clears the unsolicited faults queued while no
// handler was set.
func (c *Client) DrainFaults() []protocol.Fault {
	c.faultMutex.Lock()
	defer c.faultMutex.Unlock()
	return c.drainLocked()
}

func (c *Client) drainLocked() []protocol.Fault {
	out := make([]protocol.Fault, 0, c.backlog.Length())
	for c.backlog.Length() > 0 {
		out = append(out, c.backlog.Remove().(protocol.Fault))
	}
	return out
}

// reportFault hands f to the handler. Without one, unsolicited faults are
// queued and the oldest is dropped once the backlog is full.
func (c *Client) reportFault(f protocol.Fault) {
	c.faultMutex.Lock()
	handler := c.onFault
	if handler == nil {
		if f.Unsolicited() && c.opts.faultBacklog > 0 {
			for c.backlog.Length() >= c.opts.faultBacklog {
				dropped := c.backlog.Remove().(protocol.Fault)
				c.logger.Warn("Fault backlog full, dropping oldest", "message", dropped.Message)
			}
			c.backlog.Add(f)
		}
		c.faultMutex.Unlock()
		return
	}
	c.faultMutex.Unlock()

	handler(f)
}

// generateKey returns a key that is neither 0 nor in flight.
// Must be called with requestMutex held.
func (c *Client) generateKey() uint32 {
	for {
		c.lastKey++
		if c.lastKey == 0 {
			continue
		}
		if _, exists := c.pendingRequests[c.lastKey]; !exists {
			return c.lastKey
		}
	}
}

// call sends one request and waits for its response. A response that
// arrives after the call gave up is dropped by handleMessages.
func (c *Client) call(ctx context.Context, kind protocol.Kind, id string, opts []CallOption) (*protocol.Envelope, error) {
	co := callOptions{timeout: c.opts.timeout}
	for _, opt := range opts {
		opt(&co)
	}

	c.requestMutex.Lock()
	if c.closed {
		c.requestMutex.Unlock()
		return nil, ErrClientClosed
	}
	key := c.generateKey()
	responseChan := make(chan *protocol.Envelope, 1)
	c.pendingRequests[key] = responseChan
	c.requestMutex.Unlock()

	defer func() {
		c.requestMutex.Lock()
		delete(c.pendingRequests, key)
		c.requestMutex.Unlock()
	}()

	data, err := protocol.Request(kind, key, id).MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := c.mux.WriteMessage(ctx, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var timeout <-chan time.Time
	if co.timeout > 0 {
		timer := time.NewTimer(co.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case env := <-responseChan:
		if env.Kind == protocol.KindFault {
			return nil, env.Fault().Err()
		}
		return env, nil
	case <-timeout:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, kind, co.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.doneErr
	}
}

// Load asks the host to load the catalog entry with the given identity.
func (c *Client) Load(ctx context.Context, id string, opts ...CallOption) error {
	_, err := c.call(ctx, protocol.KindLoad, id, opts)
	return err
}

// Unload asks the host to unload a mod.
func (c *Client) Unload(ctx context.Context, id string, opts ...CallOption) error {
	_, err := c.call(ctx, protocol.KindUnload, id, opts)
	return err
}

// Suspend asks the host to suspend a mod.
func (c *Client) Suspend(ctx context.Context, id string, opts ...CallOption) error {
	_, err := c.call(ctx, protocol.KindSuspend, id, opts)
	return err
}

// Resume asks the host to resume a mod.
func (c *Client) Resume(ctx context.Context, id string, opts ...CallOption) error {
	_, err := c.call(ctx, protocol.KindResume, id, opts)
	return err
}

// ListLoaded returns the host's loaded mods.
func (c *Client) ListLoaded(ctx context.Context, opts ...CallOption) ([]mod.Info, error) {
	env, err := c.call(ctx, protocol.KindListLoaded, "", opts)
	if err != nil {
		return nil, err
	}
	if env.Kind != protocol.KindModList {
		return nil, fmt.Errorf("%w: unexpected %s", ErrTransport, env.Kind)
	}
	return env.Entries, nil
}

// Close ends the connection. Calls still waiting fail with ErrClientClosed.
func (c *Client) Close() error {
	c.requestMutex.Lock()
	if c.closed {
		c.requestMutex.Unlock()
		return nil
	}
	c.closed = true
	c.requestMutex.Unlock()

	err := c.netConn.Close()
	<-c.done
	return err
}
