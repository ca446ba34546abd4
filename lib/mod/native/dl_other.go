//go:build !(darwin || freebsd || linux || windows)

package native

import (
	"fmt"
	"runtime"
)

// Open reports that native libraries are unsupported on this platform.
func Open(path string) (Library, error) {
	return nil, fmt.Errorf("native libraries are not supported on %s", runtime.GOOS)
}
