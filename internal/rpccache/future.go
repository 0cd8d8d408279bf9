package rpccache

import "sync"

// slot is the in-memory map's value: a discriminated union of "concrete
// response", "pending future", and "cached error" (spec.md §9). Go has no
// native promise type, so a pending slot is a channel that every concurrent
// observer of the same fingerprint blocks on; the first caller to resolve it
// closes the channel, after which Result/Err are safe to read without
// further synchronization (happens-before via channel close, per sync
// package semantics).
type slot struct {
	done   chan struct{}
	once   sync.Once
	result string
	err    error
}

func newPendingSlot() *slot {
	return &slot{done: make(chan struct{})}
}

// resolve fulfills a pending slot exactly once; later calls are no-ops, so a
// slot can only ever transition pending -> resolved a single time.
func (s *slot) resolve(result string, err error) {
	s.once.Do(func() {
		s.result = result
		s.err = err
		close(s.done)
	})
}

// concreteSlot wraps an already-known value (used when installing a
// persistent-store hit directly, with no upstream round-trip).
func concreteSlot(result string, err error) *slot {
	s := &slot{done: make(chan struct{}, 0)}
	s.result = result
	s.err = err
	close(s.done)
	return s
}
