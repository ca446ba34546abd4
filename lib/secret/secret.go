// Package secret supplies the pre-shared secret remote front-ends present
// when they connect from another machine.
package secret

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// DefaultService is the keyring service name used by the host binary.
const DefaultService = "modhost"

// ErrNoSecret is returned when no store holds a secret.
var ErrNoSecret = errors.New("no secret configured")

// Store yields the secret.
type Store interface {
	Secret() (string, error)
}

// Static is a secret held in memory, typically from config or environment.
type Static string

func (s Static) Secret() (string, error) {
	if s == "" {
		return "", ErrNoSecret
	}
	return string(s), nil
}

// Keyring reads the secret from an OS keyring item.
type Keyring struct {
	ring keyring.Keyring
	key  string
}

// OpenKeyring opens the OS keyring for service and reads the item key.
func OpenKeyring(service, key string) (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyring(ring, key), nil
}

// NewKeyring reads the item key from an already opened keyring.
func NewKeyring(ring keyring.Keyring, key string) *Keyring {
	return &Keyring{ring: ring, key: key}
}

func (k *Keyring) Secret() (string, error) {
	item, err := k.ring.Get(k.key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: keyring item %q not found", ErrNoSecret, k.key)
		}
		return "", fmt.Errorf("failed to get secret from keyring: %w", err)
	}
	if len(item.Data) == 0 {
		return "", fmt.Errorf("%w: keyring item %q is empty", ErrNoSecret, k.key)
	}
	return string(item.Data), nil
}

// Set stores secret in the keyring item.
func (k *Keyring) Set(secret string) error {
	err := k.ring.Set(keyring.Item{
		Key:   k.key,
		Data:  []byte(secret),
		Label: "modhost remote-control secret",
	})
	if err != nil {
		return fmt.Errorf("failed to store secret in keyring: %w", err)
	}
	return nil
}

// First returns the secret of the first store that has one. Stores that
// report ErrNoSecret are skipped; any other error stops the search.
func First(stores ...Store) (string, error) {
	for _, s := range stores {
		if s == nil {
			continue
		}
		v, err := s.Secret()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNoSecret) {
			return "", err
		}
	}
	return "", ErrNoSecret
}
