//go:build windows

package native

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// dllLibrary is a library opened with LoadLibrary.
type dllLibrary struct {
	dll *windows.DLL
}

// Open loads the DLL at path with LoadLibrary.
func Open(path string) (Library, error) {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return nil, fmt.Errorf("LoadLibrary %s: %w", path, err)
	}
	return &dllLibrary{dll: dll}, nil
}

func (l *dllLibrary) Symbol(name string) (Func, bool) {
	proc, err := l.dll.FindProc(name)
	if err != nil {
		return nil, false
	}
	return func() uintptr {
		r1, _, _ := proc.Call()
		return r1
	}, true
}

func (l *dllLibrary) Close() error {
	if l.dll == nil {
		return nil
	}
	dll := l.dll
	l.dll = nil
	if err := dll.Release(); err != nil {
		return fmt.Errorf("FreeLibrary: %w", err)
	}
	return nil
}
