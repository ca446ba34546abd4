package remote

import (
	"errors"

	"github.com/snowmerak/modhost/lib/protocol"
)

// Errors reported by the client. Registry failures come back as the
// sentinels of package mod.
var (
	ErrTimeout      = errors.New("request timed out")
	ErrTransport    = protocol.ErrTransport
	ErrRejected     = protocol.ErrRejected
	ErrClientClosed = errors.New("client closed")
	ErrServerClosed = errors.New("server closed")
)
