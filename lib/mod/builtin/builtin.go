// Package builtin serves mods compiled into the host binary.
package builtin

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/snowmerak/modhost/lib/mod"
)

// Kind is the locator kind served by Catalog.
const Kind = "builtin"

// Factory creates the implementations of one builtin unit. It is called on
// every load, so each load gets fresh mod values.
type Factory func() ([]mod.Implementation, error)

// Catalog maps factory names to factories. The locator path of a builtin
// unit is its factory name, e.g. "builtin:mods.gamma".
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous one.
func (c *Catalog) Register(name string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// RegisterMod registers a factory for a single implementation that takes the
// identity it is loaded under.
func (c *Catalog) RegisterMod(name string, newMod func() mod.Mod) {
	c.Register(name, func() ([]mod.Implementation, error) {
		return []mod.Implementation{{Mod: newMod()}}, nil
	})
}

// Names returns the registered factory names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Load implements mod.Loader.
func (c *Catalog) Load(ctx context.Context, id string, loc mod.Locator) (mod.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	factory, ok := c.factories[loc.Path]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no builtin factory registered for %q", mod.ErrLoadFailure, loc.Path)
	}

	impls, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mod.ErrLoadFailure, err)
	}
	return &mod.StaticUnit{Impls: impls}, nil
}

// Static is a config-only mod: it carries no code and only exists so the
// host can list it. It can be unloaded but not suspended.
type Static struct {
	mod.Base
}

func (Static) Start(mod.LoaderAPI) error { return nil }
