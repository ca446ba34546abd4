package discovery

import (
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestPublishLookupRemove(t *testing.T) {
	dir := t.TempDir()
	want := Record{Port: 51234, Instance: uuid.Must(uuid.NewV7())}

	if err := Publish(dir, 4242, want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := Lookup(dir, 4242)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	// Republishing replaces the record.
	want.Port = 51235
	if err := Publish(dir, 4242, want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got, _ := Lookup(dir, 4242); got.Port != 51235 {
		t.Errorf("Expected port 51235, got %d", got.Port)
	}

	if err := Remove(dir, 4242); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := Lookup(dir, 4242); !errors.Is(err, ErrNotPublished) {
		t.Errorf("Expected ErrNotPublished, got %v", err)
	}
	if err := Remove(dir, 4242); err != nil {
		t.Errorf("Removing a missing record should succeed, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected no leftover files, got %d", len(entries))
	}
}

func TestLookup_Initializing(t *testing.T) {
	dir := t.TempDir()
	if err := Publish(dir, 7, Record{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if _, err := Lookup(dir, 7); !errors.Is(err, ErrInitializing) {
		t.Errorf("Expected ErrInitializing, got %v", err)
	}
}

func TestLookup_Corrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir, 8), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Lookup(dir, 8)
	if err == nil || errors.Is(err, ErrNotPublished) {
		t.Errorf("Expected a decode error, got %v", err)
	}
}

func TestRecord_InvalidPort(t *testing.T) {
	if _, err := (Record{Port: 70000}).MarshalBinary(); err == nil {
		t.Error("Expected error for out-of-range port")
	}
}

func TestDir_Default(t *testing.T) {
	if Dir("") != os.TempDir() {
		t.Errorf("Expected %s, got %s", os.TempDir(), Dir(""))
	}
}
