package session

import (
	"errors"
	"fmt"
	"sync"

	zkeyring "github.com/zalando/go-keyring"
)

// ErrKeyringNotAvailable indicates the OS keyring cannot be reached
// (no D-Bus/Secret Service on headless hosts, for example).
var ErrKeyringNotAvailable = errors.New("system keyring not available")

// ErrNotFound indicates no stored value for the service/account pair.
var ErrNotFound = errors.New("keyring entry not found")

// Keyring stores small secrets per service/account.
type Keyring interface {
	Set(service, account, value string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// systemKeyring stores secrets in the OS-native keyring.
type systemKeyring struct{}

// NewSystemKeyring returns the OS-native keyring.
func NewSystemKeyring() Keyring {
	return &systemKeyring{}
}

// Set stores a value in the system keyring.
func (s *systemKeyring) Set(service, account, value string) error {
	if err := zkeyring.Set(service, account, value); err != nil {
		return wrapKeyringErr(err)
	}
	return nil
}

// Get retrieves a value from the system keyring.
func (s *systemKeyring) Get(service, account string) (string, error) {
	value, err := zkeyring.Get(service, account)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", wrapKeyringErr(err)
	}
	return value, nil
}

// Delete removes a value from the system keyring.
func (s *systemKeyring) Delete(service, account string) error {
	if err := zkeyring.Delete(service, account); err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return ErrNotFound
		}
		return wrapKeyringErr(err)
	}
	return nil
}

// wrapKeyringErr maps environment failures to ErrKeyringNotAvailable.
func wrapKeyringErr(err error) error {
	if errors.Is(err, zkeyring.ErrUnsupportedPlatform) {
		return ErrKeyringNotAvailable
	}
	return fmt.Errorf("keyring operation failed: %w", err)
}

// MockKeyring is an in-memory Keyring for tests.
type MockKeyring struct {
	mu    sync.RWMutex
	store map[string]map[string]string // service -> account -> value
}

// NewMockKeyring creates a new mock keyring for testing.
func NewMockKeyring() *MockKeyring {
	return &MockKeyring{
		store: make(map[string]map[string]string),
	}
}

// Set stores a value in the mock keyring.
func (m *MockKeyring) Set(service, account, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store[service] == nil {
		m.store[service] = make(map[string]string)
	}
	m.store[service][account] = value
	return nil
}

// Get retrieves a value from the mock keyring.
func (m *MockKeyring) Get(service, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if accounts, ok := m.store[service]; ok {
		if value, ok := accounts[account]; ok {
			return value, nil
		}
	}
	return "", ErrNotFound
}

// Delete removes a value from the mock keyring.
func (m *MockKeyring) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accounts, ok := m.store[service]; ok {
		if _, ok := accounts[account]; ok {
			delete(accounts, account)
			return nil
		}
	}
	return ErrNotFound
}
