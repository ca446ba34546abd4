package native

import (
	"context"
	"errors"
	"fmt"

	"github.com/snowmerak/modhost/lib/mod"
)

// Kind is the locator kind served by Loader.
const Kind = "native"

// Loader opens native libraries named by "native:<path>" locators.
type Loader struct {
	open func(path string) (Library, error)
}

// NewLoader returns a Loader backed by the platform's dynamic linker.
func NewLoader() *Loader {
	return &Loader{open: Open}
}

// NewLoaderWithOpener returns a Loader that opens libraries with open.
func NewLoaderWithOpener(open func(path string) (Library, error)) *Loader {
	return &Loader{open: open}
}

// Load implements mod.Loader.
func (l *Loader) Load(ctx context.Context, id string, loc mod.Locator) (mod.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lib, err := l.open(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", mod.ErrLoadFailure, loc.Path, err)
	}

	m, err := New(lib)
	if err != nil {
		return nil, errors.Join(err, lib.Close())
	}

	return &unit{lib: lib, mod: m}, nil
}
