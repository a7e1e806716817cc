package session

import (
	"context"
	"errors"
	"sync"
)

// Slot is a single-slot, single-consumer delivery channel. It implements both
// Sender and Receiver; registries hand out each side separately.
type Slot struct {
	id     ID
	frames chan string
	done   chan struct{}
	once   sync.Once
}

var (
	_ Sender   = (*Slot)(nil)
	_ Receiver = (*Slot)(nil)
)

// NewSlot creates an empty slot for id.
func NewSlot(id ID) *Slot {
	return &Slot{
		id:     id,
		frames: make(chan string, 1),
		done:   make(chan struct{}),
	}
}

// Push implements Sender.Push
func (s *Slot) Push(ctx context.Context, payload string) error {
	select {
	case <-s.done:
		return ErrSlotClosed
	default:
	}

	select {
	case s.frames <- payload:
		return nil
	default:
	}

	select {
	case s.frames <- payload:
		return nil
	case <-s.done:
		return ErrSlotClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrSlotFull
		}
		return ctx.Err()
	}
}

// ID implements Receiver.ID
func (s *Slot) ID() ID {
	return s.id
}

// Frames implements Receiver.Frames
func (s *Slot) Frames() <-chan string {
	return s.frames
}

// Done implements Receiver.Done
func (s *Slot) Done() <-chan struct{} {
	return s.done
}

// Close implements Receiver.Close
func (s *Slot) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
