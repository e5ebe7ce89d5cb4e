// Package store persists published resources and feeds them to the VM.
//
// The layout has two layers:
//   - Backend: raw keyed bytes. BadgerBackend is the durable implementation;
//     MemBackend keeps everything in a map for tests.
//   - TxStore: the per-execution view the interpreter works against. It
//     caches every touched (address, type) slot as a GlobalValue, reports
//     first-load sizes for gas, and turns the slots into storage writes at
//     commit time.
//
// TxStore skips writes whose serialized bytes match the fingerprint taken at
// load time, so a transaction that mutably borrows a resource without
// changing it produces no storage traffic.
package store

import (
	"errors"
	"sync"

	"github.com/fortiblox/ember/internal/types"
)

var (
	// ErrResourceNotFound is returned when no resource lives at a key.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrClosed is returned when operating on a closed backend.
	ErrClosed = errors.New("store closed")

	// ErrCorrupted is returned when stored bytes fail to decode.
	ErrCorrupted = errors.New("stored data corrupted")
)

// GlobalKey names one resource slot: the owning address plus the canonical
// type tag of the stored value.
type GlobalKey struct {
	Address types.Address
	Tag     string
}

func (k GlobalKey) String() string {
	return k.Tag + "@" + k.Address.String()
}

// Backend is raw resource storage. Implementations must be safe for
// concurrent read access.
type Backend interface {
	// GetResource returns the bytes stored at a key.
	// Returns ErrResourceNotFound if nothing is stored there.
	GetResource(key GlobalKey) ([]byte, error)

	// SetResource stores bytes at a key, replacing any previous value.
	SetResource(key GlobalKey, data []byte) error

	// DeleteResource removes a key. Removing an absent key is not an error.
	DeleteResource(key GlobalKey) error

	// HasResource checks whether a key holds a resource.
	HasResource(key GlobalKey) (bool, error)

	// ResourceCount returns the number of stored resources.
	ResourceCount() (uint64, error)

	// IterateResources walks every stored resource. Returning an error from
	// the callback stops the walk.
	IterateResources(fn func(key GlobalKey, data []byte) error) error

	// Close releases the backend.
	Close() error
}

// MemBackend is an in-memory Backend for tests.
type MemBackend struct {
	mu        sync.RWMutex
	resources map[GlobalKey][]byte
	closed    bool
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		resources: make(map[GlobalKey][]byte),
	}
}

// GetResource returns the bytes stored at a key.
func (m *MemBackend) GetResource(key GlobalKey) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.resources[key]
	if !ok {
		return nil, ErrResourceNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// SetResource stores bytes at a key.
func (m *MemBackend) SetResource(key GlobalKey, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.resources[key] = stored
	return nil
}

// DeleteResource removes a key.
func (m *MemBackend) DeleteResource(key GlobalKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.resources, key)
	return nil
}

// HasResource checks whether a key holds a resource.
func (m *MemBackend) HasResource(key GlobalKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.resources[key]
	return ok, nil
}

// ResourceCount returns the number of stored resources.
func (m *MemBackend) ResourceCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.resources)), nil
}

// IterateResources walks every stored resource.
func (m *MemBackend) IterateResources(fn func(key GlobalKey, data []byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for key, data := range m.resources {
		out := make([]byte, len(data))
		copy(out, data)
		if err := fn(key, out); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the backend.
func (m *MemBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.resources = nil
	return nil
}

var _ Backend = (*MemBackend)(nil)
