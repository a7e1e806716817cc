package session

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when no slot is registered under an id
	ErrSessionNotFound = errors.New("session not found")
	// ErrSlotFull is returned when a pending frame was not drained in time
	ErrSlotFull = errors.New("delivery slot is full")
	// ErrSlotClosed is returned when the consumer of a slot has gone away
	ErrSlotClosed = errors.New("delivery slot is closed")
)

// Sender is the producer side of a delivery slot. It is safe for concurrent
// use and may be copied freely.
type Sender interface {
	// Push places one rendered payload into the slot. It returns at once when
	// the slot is empty, otherwise it waits until the pending frame is drained
	// or ctx is done. Callers must bound ctx.
	Push(ctx context.Context, payload string) error
}

// Receiver is the single consumer side of a delivery slot.
type Receiver interface {
	// ID returns the session id the slot was registered under.
	ID() ID

	// Frames returns the channel carrying at most one pending payload.
	Frames() <-chan string

	// Done is closed once the receiver has been closed.
	Done() <-chan struct{}

	// Close releases the slot. Pending and future pushes fail with ErrSlotClosed.
	Close() error
}

// Registry maps session ids to the sender of their live delivery slot.
type Registry interface {
	// Register creates a fresh slot for id, replacing any earlier registration
	// for the same id, and returns its consumer side. replaced reports whether
	// an earlier registration existed.
	Register(ctx context.Context, id ID) (recv Receiver, replaced bool, err error)

	// Lookup returns the sender registered for id or ErrSessionNotFound.
	Lookup(ctx context.Context, id ID) (Sender, error)

	// Deregister removes id if it is still held by r. It returns
	// ErrSessionNotFound when r was superseded or never registered.
	Deregister(ctx context.Context, id ID, r Receiver) error

	// Len returns the number of slots registered on this process.
	Len() int

	// Close releases the resources held by the registry.
	Close() error
}
