package native

import (
	"fmt"

	"github.com/snowmerak/modhost/lib/mod"
)

// Mod wraps a native library behind the mod contract.
type Mod struct {
	lib Library

	start      Func
	suspend    Func
	resume     Func
	unload     Func
	canSuspend Func
	canUnload  Func

	started bool
}

// New resolves the lifecycle exports of lib. It fails with mod.ErrLoadFailure
// only when the library exposes no entry point at all.
func New(lib Library) (*Mod, error) {
	m := &Mod{lib: lib}

	lookup := func(name string) Func {
		fn, ok := lib.Symbol(name)
		if !ok {
			return nil
		}
		return fn
	}

	m.start = lookup(SymbolStart)
	if m.start == nil {
		m.start = lookup(SymbolInitializeASI)
	}
	if m.start == nil {
		m.start = lookup(SymbolInit)
	}
	if m.start == nil {
		return nil, fmt.Errorf("%w: no %s, %s or %s export", mod.ErrLoadFailure, SymbolStart, SymbolInitializeASI, SymbolInit)
	}

	m.suspend = lookup(SymbolSuspend)
	m.resume = lookup(SymbolResume)
	m.unload = lookup(SymbolUnload)
	m.canSuspend = lookup(SymbolCanSuspend)
	m.canUnload = lookup(SymbolCanUnload)

	return m, nil
}

// Start invokes the entry point. Later calls do nothing.
func (m *Mod) Start(mod.LoaderAPI) error {
	if m.started {
		return nil
	}
	m.start()
	m.started = true
	return nil
}

func (m *Mod) Suspend() error {
	if m.suspend != nil {
		m.suspend()
	}
	return nil
}

func (m *Mod) Resume() error {
	if m.resume != nil {
		m.resume()
	}
	return nil
}

func (m *Mod) Unload() error {
	if m.unload != nil {
		m.unload()
	}
	return nil
}

func (m *Mod) CanSuspend() bool {
	return m.canSuspend != nil && truthy(m.canSuspend())
}

func (m *Mod) CanUnload() bool {
	return m.canUnload != nil && truthy(m.canUnload())
}

// Disposing has no native counterpart.
func (m *Mod) Disposing() {}

// unit owns the opened library for the lifetime of its single implementation.
type unit struct {
	lib Library
	mod *Mod
}

func (u *unit) Implementations() []mod.Implementation {
	return []mod.Implementation{{Mod: u.mod}}
}

func (u *unit) Close() error {
	u.mod = nil
	return u.lib.Close()
}
