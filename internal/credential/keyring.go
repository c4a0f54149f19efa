package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailcode"

// ErrNotFound is returned by Get when no secret is stored for the account.
var ErrNotFound = keyring.ErrKeyNotFound

// Store keeps mailbox passwords in the system keyring, keyed by address.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store backed by the first available system keyring.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailcode/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailcode-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// NewStore wraps an existing keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get retrieves the password stored for address.
func (s *Store) Get(address string) (string, error) {
	item, err := s.ring.Get(address)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting credential %q: %w", address, err)
	}
	return string(item.Data), nil
}

// Set stores the password for address.
func (s *Store) Set(address, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:   address,
		Data:  []byte(password),
		Label: serviceName + " " + address,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", address, err)
	}
	return nil
}

// Delete removes the password stored for address.
func (s *Store) Delete(address string) error {
	if err := s.ring.Remove(address); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting credential %q: %w", address, err)
	}
	return nil
}
