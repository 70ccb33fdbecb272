package transport

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"linewire/internal/wire"
)

var (
	// ErrDuplicateID reports a correlation id that already has a live slot.
	ErrDuplicateID = errors.New("correlation id already registered")
	// ErrSlotTaken reports a second take of the same delivery slot.
	ErrSlotTaken = errors.New("delivery slot already taken")
	// ErrUnknownID reports a take for an id with no registered slot.
	ErrUnknownID = errors.New("unknown correlation id")
)

// slot is a single-use handoff: exactly one fulfill, at most one waiter.
// The capacity-1 channel lets the response land on either side of the take:
// a fulfill before the waiter arrives parks the frame in the buffer and the
// entry stays until taken; a fulfill after the waiter gave up parks the
// frame and drops the slot, bounding the leak to one response.
type slot struct {
	ch        chan wire.Frame
	taken     bool
	delivered bool
}

// registry maps outstanding correlation ids to their delivery slots. It is
// shared between the writing side (register) and the listener (fulfill) and
// is safe for concurrent use.
type registry struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

func newRegistry() *registry {
	return &registry{slots: make(map[uuid.UUID]*slot)}
}

// register inserts a fresh slot for id. Collisions fail loudly rather than
// silently replacing a live slot.
func (r *registry) register(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.slots[id]; exists {
		return ErrDuplicateID
	}
	r.slots[id] = &slot{ch: make(chan wire.Frame, 1)}
	return nil
}

// take transfers ownership of the receiving end to the awaiting caller. A
// response that already arrived sits buffered in the returned channel and
// its entry is retired here. Taking twice is a caller bug and fails instead
// of minting a second receiver for the same response.
func (r *registry) take(id uuid.UUID) (<-chan wire.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrUnknownID
	}
	if s.taken {
		return nil, ErrSlotTaken
	}
	s.taken = true
	if s.delivered {
		delete(r.slots, id)
	}
	return s.ch, nil
}

// fulfill delivers frame to the slot for id. A slot with a waiter is retired
// here; a slot nobody took yet keeps its entry, frame parked in the buffer,
// so the take racing this delivery still finds it. The return value reports
// whether an undelivered slot existed; the listener logs unmatched ids
// without escalating.
func (r *registry) fulfill(id uuid.UUID, frame wire.Frame) bool {
	r.mu.Lock()
	s, ok := r.slots[id]
	if ok && s.delivered {
		// A duplicate answer; the buffer already holds the first one.
		ok = false
	}
	if ok {
		s.delivered = true
		if s.taken {
			delete(r.slots, id)
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	// Buffered send never blocks: delivered flips once under the lock, so
	// this is the only value the channel will ever carry.
	s.ch <- frame
	return true
}

// remove discards the slot for id, used to roll back a registration whose
// request bytes never reached the daemon.
func (r *registry) remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.slots, id)
	r.mu.Unlock()
}

// outstanding reports the number of live slots.
func (r *registry) outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
