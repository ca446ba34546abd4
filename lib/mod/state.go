package mod

// State represents the lifecycle state of a loaded mod.
type State uint8

const (
	StateLoading   State = 0x01 // Loaded but not yet started
	StateRunning   State = 0x02 // Started or resumed
	StateSuspended State = 0x03 // Suspended through Suspend
	StateUnloaded  State = 0x04 // Removed from the registry
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateLoading:
		return "Loading"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateUnloaded:
		return "Unloaded"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= StateLoading && s <= StateUnloaded
}

// Info is the immutable projection of a loaded mod. It is the only
// representation of a mod that crosses the remote-control boundary.
type Info struct {
	ID         string
	State      State
	CanSuspend bool
	CanUnload  bool
}

// CanSendSuspend reports whether a suspend request would be accepted for the mod.
func (i Info) CanSendSuspend() bool {
	return i.State == StateRunning && i.CanSuspend
}

// CanSendResume reports whether a resume request would be accepted for the mod.
func (i Info) CanSendResume() bool {
	return i.State == StateSuspended && i.CanSuspend
}
