// Package native adapts C-ABI shared libraries to the mod contract.
//
// A library needs to export only one entry point. The adapter resolves, in
// order, the Reloaded lifecycle exports and then the two legacy single-entry
// conventions; every export it cannot find becomes an absent capability.
package native

// Exported symbol names, in resolution order.
const (
	SymbolStart      = "ReloadedStart"
	SymbolSuspend    = "ReloadedSuspend"
	SymbolResume     = "ReloadedResume"
	SymbolUnload     = "ReloadedUnload"
	SymbolCanSuspend = "ReloadedCanSuspend"
	SymbolCanUnload  = "ReloadedCanUnload"

	// Legacy entry points, tried when SymbolStart is absent.
	SymbolInitializeASI = "InitializeASI"
	SymbolInit          = "Init"
)

// Func is a resolved, argument-less native function. It returns the raw
// contents of the return register.
type Func func() uintptr

// Library is the FFI boundary to one opened native library.
type Library interface {
	// Symbol resolves an exported function. A missing export is reported
	// with ok == false, never as an error.
	Symbol(name string) (fn Func, ok bool)

	// Close releases the library.
	Close() error
}

// truthy reads a native bool from the low byte of the return register.
func truthy(r uintptr) bool {
	return r&0xff != 0
}
