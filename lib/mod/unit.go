package mod

import (
	"context"
	"fmt"
	"strings"
)

// Locator names where a code unit is loaded from, e.g. "wasm:mods/alpha.wasm".
type Locator struct {
	Kind string
	Path string
}

// ParseLocator parses the textual "kind:path" form of a locator.
func ParseLocator(s string) (Locator, error) {
	kind, path, ok := strings.Cut(s, ":")
	if !ok || kind == "" || path == "" {
		return Locator{}, fmt.Errorf("invalid locator %q: expected kind:path", s)
	}
	return Locator{Kind: kind, Path: path}, nil
}

func (l Locator) String() string {
	return l.Kind + ":" + l.Path
}

// Implementation is one contract implementation exposed by a unit.
// An empty ID means the implementation takes the identity it was loaded under.
type Implementation struct {
	ID  string
	Mod Mod
}

// Unit is a loaded code unit. It owns the loading context of every
// implementation it exposes; Close releases that context.
type Unit interface {
	Implementations() []Implementation
	Close() error
}

// Loader loads code units of one kind.
type Loader interface {
	Load(ctx context.Context, id string, loc Locator) (Unit, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, id string, loc Locator) (Unit, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, id string, loc Locator) (Unit, error) {
	return f(ctx, id, loc)
}

// StaticUnit is a Unit over a fixed set of implementations.
type StaticUnit struct {
	Impls   []Implementation
	OnClose func() error
}

func (u *StaticUnit) Implementations() []Implementation { return u.Impls }

func (u *StaticUnit) Close() error {
	if u.OnClose != nil {
		return u.OnClose()
	}
	return nil
}
