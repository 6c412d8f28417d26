package rules

import (
	"context"
	"sync"
)

// Medium is a single named slot holding one serialized snapshot of the whole
// rule collection. Writes replace the slot wholly.
type Medium interface {
	// Read returns the slot contents, or ErrSlotEmpty if it was never written
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the slot contents
	Write(ctx context.Context, data []byte) error
}

// MemoryMedium implements Medium in process memory
// Thread-safe with RWMutex
type MemoryMedium struct {
	data []byte
	set  bool
	mu   sync.RWMutex
}

// NewMemoryMedium creates an empty in-memory slot
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{}
}

// Read returns a copy of the slot contents
func (m *MemoryMedium) Read(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.set {
		return nil, ErrSlotEmpty
	}
	return append([]byte(nil), m.data...), nil
}

// Write stores a copy of data
func (m *MemoryMedium) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = append([]byte(nil), data...)
	m.set = true
	return nil
}
