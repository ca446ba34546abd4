// Package mod defines the capability contract every loaded unit exposes to the
// host, together with the identity, state and error types shared by the
// registry, the adapters and the remote-control protocol.
package mod

import (
	"log/slog"
)

// Mod is the lifecycle contract implemented by every loaded mod.
//
// Lifecycle methods are called by the registry while it holds its lock, so
// they must return promptly. Long-running work belongs on goroutines the mod
// owns and stops in Suspend or Unload.
type Mod interface {
	// Start is called exactly once after the mod is loaded.
	Start(api LoaderAPI) error

	// Suspend pauses the mod. Only called when CanSuspend reports true.
	Suspend() error

	// Resume continues a suspended mod. Only called when CanSuspend reports true.
	Resume() error

	// Unload releases everything the mod acquired. Only called when CanUnload reports true.
	Unload() error

	// CanSuspend reports whether Suspend and Resume are supported.
	// The registry reads it once at load time.
	CanSuspend() bool

	// CanUnload reports whether the mod may be unloaded at runtime.
	// The registry reads it once at load time.
	CanUnload() bool

	// Disposing is raised exactly once before the mod is torn down.
	Disposing()
}

// Base provides default implementations for every Mod method except Start.
// A mod embedding Base can be unloaded but not suspended.
type Base struct{}

func (Base) Suspend() error   { return nil }
func (Base) Resume() error    { return nil }
func (Base) Unload() error    { return nil }
func (Base) CanSuspend() bool { return false }
func (Base) CanUnload() bool  { return true }
func (Base) Disposing()       {}

// HostInfo describes the host application a mod is loaded into.
type HostInfo struct {
	AppID         string
	AppName       string
	Executable    string
	LoaderVersion string
}

// Event names a point in a mod's lifecycle observable through the loader API.
type Event uint8

const (
	EventLoading Event = iota + 1
	EventLoaded
	EventUnloading
	EventUnloaded
)

func (e Event) String() string {
	switch e {
	case EventLoading:
		return "loading"
	case EventLoaded:
		return "loaded"
	case EventUnloading:
		return "unloading"
	case EventUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Hook is invoked by the loader API around lifecycle transitions.
// It runs inside the registry's critical section.
type Hook func(id string, info Info)

// LoaderAPI is the capability surface handed to a mod in Start.
type LoaderAPI interface {
	// Host returns the identity of the host application.
	Host() HostInfo

	// Logger returns a logger scoped to the calling mod.
	Logger() *slog.Logger

	// ActiveMods returns the most recently published registry snapshot.
	ActiveMods() []Info

	// On registers a hook for the given lifecycle event and returns a
	// function that removes it.
	On(event Event, hook Hook) (unsubscribe func())

	// AddController publishes a value other mods can look up by name.
	// The entry is removed automatically when the calling mod unloads.
	AddController(name string, value any)

	// Controller returns the value published under name.
	Controller(name string) (any, bool)

	// RemoveController removes a value published by the calling mod.
	RemoveController(name string)
}
