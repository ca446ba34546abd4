package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/snowmerak/modhost/lib/mod"
)

type call struct {
	name  string
	input string
}

// fakeInstance answers exports from a table and records every call.
type fakeInstance struct {
	exports map[string]string
	calls   []call
	closed  int
}

func (f *fakeInstance) FunctionExists(name string) bool {
	_, ok := f.exports[name]
	return ok
}

func (f *fakeInstance) Call(name string, input []byte) (uint32, []byte, error) {
	f.calls = append(f.calls, call{name: name, input: string(input)})
	out, ok := f.exports[name]
	if !ok {
		return 1, nil, errors.New("unknown export")
	}
	return 0, []byte(out), nil
}

func (f *fakeInstance) Close(context.Context) error {
	f.closed++
	return nil
}

func newTestLoader(inst *fakeInstance) *Loader {
	l := NewLoader(WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
	l.instantiate = func(context.Context, string) (instance, error) {
		return inst, nil
	}
	return l
}

type hostAPI struct {
	mod.LoaderAPI
}

func (hostAPI) Host() mod.HostInfo {
	return mod.HostInfo{AppID: "game.exe", AppName: "Game", LoaderVersion: "1.0.0"}
}

func TestLoad_SingleImplementation(t *testing.T) {
	inst := &fakeInstance{exports: map[string]string{
		ExportStart:      "",
		ExportCanSuspend: "1",
		ExportCanUnload:  "true\n",
		ExportSuspend:    "",
	}}

	u, err := newTestLoader(inst).Load(context.Background(), "mods.alpha", mod.Locator{Kind: Kind, Path: "alpha.wasm"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	impls := u.Implementations()
	if len(impls) != 1 || impls[0].ID != "" {
		t.Fatalf("Expected one implementation without declared id, got %+v", impls)
	}

	m := impls[0].Mod
	if !m.CanSuspend() || !m.CanUnload() {
		t.Errorf("Expected both capabilities granted")
	}

	if err := m.Start(hostAPI{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var doc startDocument
	for _, c := range inst.calls {
		if c.name == ExportStart {
			if err := json.Unmarshal([]byte(c.input), &doc); err != nil {
				t.Fatalf("start input is not JSON: %v", err)
			}
		}
	}
	want := startDocument{ID: "mods.alpha", AppID: "game.exe", AppName: "Game", LoaderVersion: "1.0.0"}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("start document mismatch (-want +got):\n%s", diff)
	}

	// Resume is not exported and must be a no-op.
	before := len(inst.calls)
	if err := m.Resume(); err != nil {
		t.Errorf("Resume should be a no-op, got %v", err)
	}
	if len(inst.calls) != before {
		t.Errorf("Expected no call for a missing export")
	}

	if err := m.Suspend(); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	last := inst.calls[len(inst.calls)-1]
	if last.name != ExportSuspend || last.input != "mods.alpha" {
		t.Errorf("Expected suspend called with identity, got %+v", last)
	}

	if err := u.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if inst.closed != 1 {
		t.Errorf("Expected instance closed once, got %d", inst.closed)
	}
}

func TestLoad_DeclaredIdentities(t *testing.T) {
	inst := &fakeInstance{exports: map[string]string{
		ExportStart:  "",
		ExportModIDs: "mods.one\n\n mods.two \n",
	}}

	u, err := newTestLoader(inst).Load(context.Background(), "pack", mod.Locator{Kind: Kind, Path: "pack.wasm"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var got []string
	for _, impl := range u.Implementations() {
		got = append(got, impl.ID)
		if impl.Mod.CanUnload() || impl.Mod.CanSuspend() {
			t.Errorf("Expected capabilities absent for %s", impl.ID)
		}
	}
	if diff := cmp.Diff([]string{"mods.one", "mods.two"}, got); diff != "" {
		t.Errorf("identities mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingStart(t *testing.T) {
	inst := &fakeInstance{exports: map[string]string{ExportSuspend: ""}}

	_, err := newTestLoader(inst).Load(context.Background(), "mods.alpha", mod.Locator{Kind: Kind, Path: "alpha.wasm"})
	if !errors.Is(err, mod.ErrLoadFailure) {
		t.Fatalf("Expected ErrLoadFailure, got %v", err)
	}
	if inst.closed != 1 {
		t.Errorf("Expected instance released after failure, got %d closes", inst.closed)
	}
}

func TestLoad_InvalidModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wasm")
	if err := os.WriteFile(path, []byte("not a wasm module"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoader().Load(context.Background(), "mods.broken", mod.Locator{Kind: Kind, Path: path})
	if !errors.Is(err, mod.ErrLoadFailure) {
		t.Fatalf("Expected ErrLoadFailure, got %v", err)
	}
}

func TestGranted(t *testing.T) {
	tests := map[string]bool{
		"1":      true,
		"true":   true,
		"TRUE\n": true,
		"0":      false,
		"false":  false,
		"":       false,
		"yes":    false,
	}
	for in, want := range tests {
		if got := granted([]byte(in)); got != want {
			t.Errorf("granted(%q): Expected %v, got %v", in, want, got)
		}
	}
}

func TestLoad_Metadata(t *testing.T) {
	inst := &fakeInstance{exports: map[string]string{ExportStart: ""}}
	catalog := map[string]map[string]string{"mods.alpha": {"author": "someone"}}

	l := newTestLoader(inst)
	WithMetadata(func(id string) map[string]string { return catalog[id] })(l)

	u, err := l.Load(context.Background(), "mods.alpha", mod.Locator{Kind: Kind, Path: "alpha.wasm"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := u.Implementations()[0].Mod.Start(hostAPI{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var doc startDocument
	if err := json.Unmarshal([]byte(inst.calls[len(inst.calls)-1].input), &doc); err != nil {
		t.Fatalf("start input is not JSON: %v", err)
	}
	if diff := cmp.Diff(catalog["mods.alpha"], doc.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}
