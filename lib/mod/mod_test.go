package mod

import (
	"errors"
	"testing"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Locator
		wantErr bool
	}{
		{"wasm", "wasm:mods/alpha.wasm", Locator{Kind: "wasm", Path: "mods/alpha.wasm"}, false},
		{"windows path", `native:C:\mods\beta.dll`, Locator{Kind: "native", Path: `C:\mods\beta.dll`}, false},
		{"builtin", "builtin:mods.gamma", Locator{Kind: "builtin", Path: "mods.gamma"}, false},
		{"no kind", ":mods/alpha.wasm", Locator{}, true},
		{"no path", "wasm:", Locator{}, true},
		{"no separator", "mods.alpha", Locator{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocator(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
			if !tt.wantErr && got.String() != tt.input {
				t.Errorf("Expected String() %q, got %q", tt.input, got.String())
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateLoading, "Loading"},
		{StateRunning, "Running"},
		{StateSuspended, "Suspended"},
		{StateUnloaded, "Unloaded"},
		{State(0), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
	if State(0).Valid() || State(9).Valid() {
		t.Error("Out-of-range states should not be valid")
	}
}

func TestInfoCanSend(t *testing.T) {
	running := Info{ID: "mods.alpha", State: StateRunning, CanSuspend: true}
	if !running.CanSendSuspend() || running.CanSendResume() {
		t.Errorf("Running suspendable mod: unexpected flags %+v", running)
	}

	suspended := Info{ID: "mods.alpha", State: StateSuspended, CanSuspend: true}
	if suspended.CanSendSuspend() || !suspended.CanSendResume() {
		t.Errorf("Suspended mod: unexpected flags %+v", suspended)
	}

	fixed := Info{ID: "mods.beta", State: StateRunning}
	if fixed.CanSendSuspend() {
		t.Error("Mod without suspend support should not accept suspend")
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := NewError("unload", "mods.alpha", ErrCannotUnload)
	if !errors.Is(err, ErrCannotUnload) {
		t.Errorf("Expected errors.Is to match ErrCannotUnload")
	}
	if err.Error() != `unload "mods.alpha": mod does not support unloading` {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestBaseDefaults(t *testing.T) {
	var b Base
	if b.CanSuspend() {
		t.Error("Base should not support suspending")
	}
	if !b.CanUnload() {
		t.Error("Base should support unloading")
	}
}
