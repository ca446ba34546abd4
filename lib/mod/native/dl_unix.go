//go:build darwin || freebsd || linux

package native

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// dlLibrary is a library opened with dlopen.
type dlLibrary struct {
	handle uintptr
}

// Open loads the shared library at path with dlopen.
func Open(path string) (Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen %s: %w", path, err)
	}
	return &dlLibrary{handle: h}, nil
}

func (l *dlLibrary) Symbol(name string) (Func, bool) {
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil || addr == 0 {
		return nil, false
	}
	return func() uintptr {
		r1, _, _ := purego.SyscallN(addr)
		return r1
	}, true
}

func (l *dlLibrary) Close() error {
	if l.handle == 0 {
		return nil
	}
	h := l.handle
	l.handle = 0
	if err := purego.Dlclose(h); err != nil {
		return fmt.Errorf("dlclose: %w", err)
	}
	return nil
}
