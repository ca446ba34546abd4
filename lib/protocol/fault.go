package protocol

import (
	"errors"
	"fmt"

	"github.com/snowmerak/modhost/lib/mod"
)

// Errors that only exist on the wire.
var (
	ErrTransport = errors.New("transport fault")
	ErrRejected  = errors.New("connection rejected")
	ErrRemote    = errors.New("remote failure")
)

// Code classifies a Fault so the receiver can rebuild a typed error.
type Code uint32

const (
	CodeUnknown Code = iota
	CodeDuplicateIdentity
	CodeNotFound
	CodeCannotUnload
	CodeCannotSuspend
	CodeLoadFailure
	CodeStaleHandle
	CodeTransport
	CodeRejected
)

var codeErrors = map[Code]error{
	CodeDuplicateIdentity: mod.ErrDuplicateIdentity,
	CodeNotFound:          mod.ErrNotFound,
	CodeCannotUnload:      mod.ErrCannotUnload,
	CodeCannotSuspend:     mod.ErrCannotSuspend,
	CodeLoadFailure:       mod.ErrLoadFailure,
	CodeStaleHandle:       mod.ErrStaleHandle,
	CodeTransport:         ErrTransport,
	CodeRejected:          ErrRejected,
}

// CodeOf maps err to the code of the first sentinel it wraps.
func CodeOf(err error) Code {
	for code := CodeDuplicateIdentity; code <= CodeRejected; code++ {
		if errors.Is(err, codeErrors[code]) {
			return code
		}
	}
	return CodeUnknown
}

// Fault is a failure reported by the remote side.
type Fault struct {
	Key     uint32
	Code    Code
	Message string
	Detail  string
}

// NewFault describes err as a Fault answering the request with the given key.
func NewFault(key uint32, err error) Fault {
	f := Fault{Key: key, Code: CodeOf(err), Message: err.Error()}

	var modErr *mod.Error
	if errors.As(err, &modErr) {
		f.Detail = fmt.Sprintf("op=%s id=%s", modErr.Op, modErr.ID)
	}
	return f
}

// Error implements error.
func (f *Fault) Error() string {
	return f.Message
}

// Unwrap returns the sentinel error for the fault's code.
func (f *Fault) Unwrap() error {
	if err, ok := codeErrors[f.Code]; ok {
		return err
	}
	return ErrRemote
}

// Err returns the fault as an error matching the sentinel it was built from.
func (f Fault) Err() error {
	return &f
}

// Unsolicited reports whether the fault was pushed rather than requested.
func (f Fault) Unsolicited() bool {
	return f.Key == 0
}
