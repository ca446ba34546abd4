package mod

import (
	"errors"
	"fmt"
)

// Errors reported by registry operations. Callers test with errors.Is.
var (
	ErrDuplicateIdentity = errors.New("mod already loaded")
	ErrNotFound          = errors.New("mod not found")
	ErrCannotUnload      = errors.New("mod does not support unloading")
	ErrCannotSuspend     = errors.New("mod does not support suspending")
	ErrLoadFailure       = errors.New("mod failed to load")
	ErrStaleHandle       = errors.New("stale mod handle")
)

// Error records a failed operation on a mod.
type Error struct {
	Op  string // "load", "unload", "suspend", "resume", ...
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a failed op on the mod with the given id.
func NewError(op, id string, err error) *Error {
	return &Error{Op: op, ID: id, Err: err}
}
