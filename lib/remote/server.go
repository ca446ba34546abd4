// Package remote exposes a mod registry to out-of-process front-ends over a
// framed TCP channel and provides the matching client.
//
// A connection opens with a Hello envelope. Loopback peers are always
// accepted; other peers need AllowExternal and the pre-shared secret.
// Requests carry a key the response echoes, so a client may keep several
// calls in flight. Faults pushed with key 0 are not tied to any request.
package remote

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snowmerak/modhost/lib/discovery"
	"github.com/snowmerak/modhost/lib/mod"
	"github.com/snowmerak/modhost/lib/multiplexer"
	"github.com/snowmerak/modhost/lib/protocol"
)

// Server accepts control connections for a registry.
type Server struct {
	registry Registry
	instance uuid.UUID

	mu       sync.Mutex
	opts     ServerOptions
	logger   *slog.Logger
	listener net.Listener
	conns    map[*conn]struct{}
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

type conn struct {
	id       string
	netConn  net.Conn
	mux      multiplexer.Multiplexer
	logger   *slog.Logger
	accepted bool
}

// NewServer creates a server for registry. It does not listen until Start.
func NewServer(registry Registry, opts *ServerOptions) (*Server, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts == nil {
		opts = DefaultServerOptions()
	}

	instance, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to create instance id: %w", err)
	}

	s := &Server{
		registry: registry,
		instance: instance,
		conns:    make(map[*conn]struct{}),
	}
	s.configure(opts)
	return s, nil
}

func (s *Server) configure(opts *ServerOptions) {
	s.opts = *opts
	s.logger = opts.Logger
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "remote", "instance", s.instance.String())
}

// Instance returns the id published with the endpoint.
func (s *Server) Instance() uuid.UUID {
	return s.instance
}

// Addr returns the bound address, or nil when the server is not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound port, or 0 when the server is not listening.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Start binds the listener, publishes the endpoint and begins accepting.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return errors.New("server already started")
	}

	host := "127.0.0.1"
	if s.opts.AllowExternal {
		host = ""
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(s.opts.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if s.opts.Discovery {
		rec := discovery.Record{Port: port, Instance: s.instance}
		if err := discovery.Publish(s.opts.DiscoveryDir, s.opts.PID, rec); err != nil {
			ln.Close()
			return fmt.Errorf("failed to publish endpoint: %w", err)
		}
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptLoop(serveCtx, ln)

	s.logger.Info("Server listening", "addr", ln.Addr().String(), "external", s.opts.AllowExternal)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("Accept failed", "error", err)
			}
			return
		}

		c := &conn{
			id:      uuid.NewString(),
			netConn: nc,
			mux:     multiplexer.NewWithConfig(nc, nc, multiplexer.Config{Version: protocol.Version}),
		}
		c.logger = s.logger.With("conn", c.id, "peer", nc.RemoteAddr().String())

		s.mu.Lock()
		if s.listener != ln {
			s.mu.Unlock()
			nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serve(ctx, c)
	}
}

func (s *Server) serve(ctx context.Context, c *conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.netConn.Close()
		c.logger.Debug("Connection closed")
	}()

	c.logger.Debug("Connection opened")

	msgs, err := c.mux.ReadMessage(ctx)
	if err != nil {
		c.logger.Error("Failed to read", "error", err)
		return
	}

	for msg := range msgs {
		switch msg.Type {
		case multiplexer.MessageTypeError:
			c.logger.Warn("Transport error", "error", string(msg.Data))
			return
		case multiplexer.MessageTypeAbort:
			continue
		}

		env, err := protocol.Decode(msg.Data)

		if !s.isAccepted(c) {
			if err == nil && env.Kind != protocol.KindHello {
				err = fmt.Errorf("%w: expected hello, got %s", ErrRejected, env.Kind)
			}
			if err == nil {
				err = s.authorize(c.netConn.RemoteAddr(), env.Secret)
			}
			if err != nil {
				c.logger.Warn("Handshake refused", "error", err)
				s.reply(ctx, c, protocol.FaultEnvelope(protocol.NewFault(0, err)))
				return
			}
			s.accept(c)
			s.reply(ctx, c, protocol.Ack(0))
			continue
		}

		if err != nil {
			s.reply(ctx, c, protocol.FaultEnvelope(protocol.NewFault(env.Key, err)))
			continue
		}

		s.reply(ctx, c, s.handle(ctx, c, env))
	}
}

func (s *Server) isAccepted(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.accepted
}

func (s *Server) accept(c *conn) {
	s.mu.Lock()
	c.accepted = true
	s.mu.Unlock()
}

// handle runs one request against the registry and builds its response.
func (s *Server) handle(ctx context.Context, c *conn, env *protocol.Envelope) *protocol.Envelope {
	start := time.Now()

	var (
		resp *protocol.Envelope
		err  error
	)
	switch {
	case !env.Kind.IsRequest():
		err = fmt.Errorf("%w: unexpected %s (0x%02x)", ErrTransport, env.Kind, uint8(env.Kind))
	case env.Kind == protocol.KindLoad:
		var loc mod.Locator
		loc, err = s.resolve(env.ID)
		if err == nil {
			err = s.registry.Load(ctx, env.ID, loc)
		}
	case env.Kind == protocol.KindUnload:
		err = s.registry.Unload(env.ID)
	case env.Kind == protocol.KindSuspend:
		err = s.registry.Suspend(env.ID)
	case env.Kind == protocol.KindResume:
		err = s.registry.Resume(env.ID)
	case env.Kind == protocol.KindListLoaded:
		resp = protocol.ModList(env.Key, s.registry.ListLoaded())
	}

	if err != nil {
		resp = protocol.FaultEnvelope(protocol.NewFault(env.Key, err))
	} else if resp == nil {
		resp = protocol.Ack(env.Key)
	}

	if s.logRequests() {
		attrs := []any{"kind", env.Kind.String(), "key", env.Key, "duration", time.Since(start)}
		if env.ID != "" {
			attrs = append(attrs, "mod", env.ID)
		}
		if err != nil {
			c.logger.Warn("Request failed", append(attrs, "error", err)...)
		} else {
			c.logger.Info("Request handled", attrs...)
		}
	}
	return resp
}

func (s *Server) resolve(id string) (mod.Locator, error) {
	s.mu.Lock()
	resolver := s.opts.Resolver
	s.mu.Unlock()

	if resolver == nil {
		return mod.Locator{}, &mod.Error{Op: "load", ID: id, Err: mod.ErrNotFound}
	}
	return resolver.Resolve(id)
}

func (s *Server) logRequests() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.LogRequests
}

func (s *Server) reply(ctx context.Context, c *conn, env *protocol.Envelope) {
	data, err := env.MarshalBinary()
	if err != nil {
		c.logger.Error("Failed to encode response", "kind", env.Kind.String(), "error", err)
		return
	}
	if err := c.mux.WriteMessage(ctx, data); err != nil {
		c.logger.Warn("Failed to send response", "kind", env.Kind.String(), "error", err)
	}
}

// authorize decides whether a peer may use the connection.
func (s *Server) authorize(remote net.Addr, presented string) error {
	s.mu.Lock()
	allowExternal, secret := s.opts.AllowExternal, s.opts.Secret
	s.mu.Unlock()
	return authorize(remote, presented, allowExternal, secret)
}

func authorize(remote net.Addr, presented string, allowExternal bool, secret string) error {
	if isLoopback(remote) {
		return nil
	}
	if !allowExternal {
		return fmt.Errorf("%w: external connections are disabled", ErrRejected)
	}
	if secret == "" {
		return fmt.Errorf("%w: no secret configured for external connections", ErrRejected)
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
		return fmt.Errorf("%w: invalid secret", ErrRejected)
	}
	return nil
}

func isLoopback(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.IsLoopback()
	case nil:
		return false
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Notify pushes err as an unsolicited fault to every accepted connection.
func (s *Server) Notify(ctx context.Context, err error) {
	data, encErr := protocol.FaultEnvelope(protocol.NewFault(0, err)).MarshalBinary()
	if encErr != nil {
		s.logger.Error("Failed to encode fault", "error", encErr)
		return
	}

	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if c.accepted {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.mux.WriteMessage(ctx, data); err != nil {
			c.logger.Warn("Failed to push fault", "error", err)
		}
	}
}

// Restart closes the listener and every connection, then starts again with
// opts. The instance id is kept.
func (s *Server) Restart(ctx context.Context, opts *ServerOptions) error {
	if err := s.stop(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if opts != nil {
		s.configure(opts)
	}
	s.mu.Unlock()

	return s.Start(ctx)
}

// Close stops the server and withdraws the published endpoint.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.stop(ctx)
}

// stop closes the listener and connections and waits for their goroutines.
func (s *Server) stop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for c := range s.conns {
		c.netConn.Close()
	}
	discoveryOn, dir, pid := s.opts.Discovery, s.opts.DiscoveryDir, s.opts.PID
	s.mu.Unlock()

	if ln == nil {
		return nil
	}

	var errs []error
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if discoveryOn {
		if err := discovery.Remove(dir, pid); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("Server stopped")
	return errors.Join(errs...)
}
