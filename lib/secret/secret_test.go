package secret

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestStatic(t *testing.T) {
	if v, err := Static("s3cret").Secret(); err != nil || v != "s3cret" {
		t.Errorf("Expected s3cret, got %q, %v", v, err)
	}
	if _, err := Static("").Secret(); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Expected ErrNoSecret, got %v", err)
	}
}

func TestKeyring(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	k := NewKeyring(ring, "remote")

	if _, err := k.Secret(); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("Expected ErrNoSecret for a missing item, got %v", err)
	}

	if err := k.Set("from-keyring"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := k.Secret()
	if err != nil {
		t.Fatalf("Secret failed: %v", err)
	}
	if v != "from-keyring" {
		t.Errorf("Expected from-keyring, got %q", v)
	}
}

func TestFirst(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "remote", Data: []byte("ring")}})

	tests := []struct {
		name    string
		stores  []Store
		want    string
		wantErr error
	}{
		{"static wins", []Store{Static("flag"), NewKeyring(ring, "remote")}, "flag", nil},
		{"falls through", []Store{Static(""), nil, NewKeyring(ring, "remote")}, "ring", nil},
		{"none", []Store{Static(""), NewKeyring(ring, "other")}, "", ErrNoSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := First(tt.stores...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
