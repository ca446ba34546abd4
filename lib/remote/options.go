package remote

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/snowmerak/modhost/lib/mod"
)

// DefaultTimeout bounds a client call when no other timeout is configured.
const DefaultTimeout = 5 * time.Second

// Registry is the part of the mod registry the server drives.
type Registry interface {
	Load(ctx context.Context, id string, loc mod.Locator) error
	Unload(id string) error
	Suspend(id string) error
	Resume(id string) error
	ListLoaded() []mod.Info
}

// Resolver maps the identity in a Load request to a locator.
type Resolver interface {
	Resolve(id string) (mod.Locator, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(id string) (mod.Locator, error)

func (f ResolverFunc) Resolve(id string) (mod.Locator, error) {
	return f(id)
}

// ServerOptions defines options for creating a Server.
type ServerOptions struct {
	// Port to listen on. 0 picks a free port.
	Port int

	// AllowExternal listens on every interface instead of loopback only.
	// Remote connections must still present Secret.
	AllowExternal bool

	// Secret is the pre-shared secret required from non-loopback peers.
	Secret string

	// LogRequests logs every handled request.
	LogRequests bool

	// Discovery publishes the bound port under PID in DiscoveryDir.
	Discovery    bool
	DiscoveryDir string
	PID          int

	// Resolver maps Load identities to locators. Without one every remote
	// Load fails with mod.ErrNotFound.
	Resolver Resolver

	Logger *slog.Logger
}

// DefaultServerOptions returns loopback-only options on a free port that
// publish discovery for the current process.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		LogRequests: true,
		Discovery:   true,
		PID:         os.Getpid(),
		Logger:      slog.Default(),
	}
}

type clientOptions struct {
	timeout      time.Duration
	secret       string
	logger       *slog.Logger
	faultBacklog int
	discoveryDir string
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
		faultBacklog: 64,
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithTimeout sets the default timeout of every call.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithSecret sets the secret presented in the handshake.
func WithSecret(secret string) Option {
	return func(o *clientOptions) {
		o.secret = secret
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithFaultBacklog bounds the number of unsolicited faults kept while no
// fault handler is set.
func WithFaultBacklog(n int) Option {
	return func(o *clientOptions) {
		o.faultBacklog = n
	}
}

// WithDiscoveryDir sets where Connect and IsHostPresent look for endpoints.
func WithDiscoveryDir(dir string) Option {
	return func(o *clientOptions) {
		o.discoveryDir = dir
	}
}

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// CallTimeout overrides the client timeout for one call.
func CallTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}
