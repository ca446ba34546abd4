package registry

import (
	"errors"
	"fmt"

	"github.com/snowmerak/modhost/lib/mod"
)

// unitRef counts the registry entries that share one loaded unit. The unit
// is closed when the last of them goes away.
type unitRef struct {
	unit mod.Unit
	loc  mod.Locator
	refs int
}

func (u *unitRef) acquire() {
	u.refs++
}

func (u *unitRef) release() error {
	u.refs--
	if u.refs > 0 {
		return nil
	}
	err := u.unit.Close()
	u.unit = nil
	return err
}

// instance is one registry entry. mod is nil once the entry is unloaded.
type instance struct {
	id         string
	mod        mod.Mod
	unit       *unitRef
	handle     Handle
	state      mod.State
	canSuspend bool
	canUnload  bool
}

func (i *instance) info() mod.Info {
	return mod.Info{
		ID:         i.id,
		State:      i.state,
		CanSuspend: i.canSuspend,
		CanUnload:  i.canUnload,
	}
}

// errPanic marks an error recovered from a panicking mod.
var errPanic = errors.New("mod panicked")

// guard runs a lifecycle call and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errPanic, p)
		}
	}()
	return fn()
}

// guardBool reads a capability flag. A panicking flag reads as false.
func guardBool(fn func() bool) (v bool) {
	defer func() {
		if recover() != nil {
			v = false
		}
	}()
	return fn()
}
