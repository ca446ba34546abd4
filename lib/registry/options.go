package registry

import (
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/snowmerak/modhost/lib/mod"
)

// Options defines options for creating a Registry.
type Options struct {
	// Host identifies the host application to every mod.
	Host mod.HostInfo

	// Logger receives registry and mod logs.
	Logger *slog.Logger

	// Loaders maps locator kinds to loaders. More can be added with Register.
	Loaders map[string]mod.Loader

	// Reclaim runs after every unload, outside the registry lock.
	Reclaim func()
}

// DefaultOptions returns options with no loaders and a full GC as the
// reclamation pass.
func DefaultOptions() *Options {
	return &Options{
		Logger:  slog.Default(),
		Loaders: make(map[string]mod.Loader),
		Reclaim: Reclaim,
	}
}

// Reclaim forces a collection and returns freed memory to the OS so an
// unloaded unit is not kept mapped by garbage that still points into it.
func Reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}
