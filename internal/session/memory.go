package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryRegistry implements Registry with a process-local map
type MemoryRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	slots  map[ID]*Slot
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates a new in-memory session registry
func NewMemoryRegistry(logger *zap.Logger) *MemoryRegistry {
	return &MemoryRegistry{
		logger: logger.Named("session.registry.memory"),
		slots:  make(map[ID]*Slot),
	}
}

// Register implements Registry.Register
func (r *MemoryRegistry) Register(_ context.Context, id ID) (Receiver, bool, error) {
	slot := NewSlot(id)

	r.mu.Lock()
	_, replaced := r.slots[id]
	r.slots[id] = slot
	r.mu.Unlock()

	if replaced {
		r.logger.Debug("registration superseded", zap.Stringer("id", id))
	}
	return slot, replaced, nil
}

// Lookup implements Registry.Lookup
func (r *MemoryRegistry) Lookup(_ context.Context, id ID) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.slots[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return slot, nil
}

// Deregister implements Registry.Deregister
func (r *MemoryRegistry) Deregister(_ context.Context, id ID, recv Receiver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok || Receiver(slot) != recv {
		return ErrSessionNotFound
	}
	delete(r.slots, id)
	return nil
}

// Len implements Registry.Len
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// IDs returns the currently registered ids
func (r *MemoryRegistry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ID, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	return ids
}

// Close implements Registry.Close. Every registered slot is closed.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, slot := range r.slots {
		_ = slot.Close()
		delete(r.slots, id)
	}
	return nil
}
