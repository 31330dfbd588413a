// Package store pkg/store/memory_store.go
package store

import (
	"encoding/json"
	"sync"

	"github.com/tonertrack/tonertrack/pkg/printer"
)

// InMemoryStore implements Store without a backing file. Used in tests
// and wherever durability does not matter.
type InMemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*printer.Device
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{devices: map[string]*printer.Device{}}
}

// Load implements Store. Records are deep-copied so callers cannot
// mutate the stored state behind the store's back.
func (s *InMemoryStore) Load() (map[string]*printer.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyDevices(s.devices)
}

// Save implements Store.
func (s *InMemoryStore) Save(devices map[string]*printer.Device) error {
	copied, err := copyDevices(devices)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices = copied

	return nil
}

// copyDevices round-trips through JSON, which doubles as a guarantee
// that whatever we hold is exactly what a FileStore would persist.
func copyDevices(in map[string]*printer.Device) (map[string]*printer.Device, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	out := map[string]*printer.Device{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}
