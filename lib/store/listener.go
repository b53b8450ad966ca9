package store

import "reflect"

// --------------------------------------------------------------------------
// Listener Set
// --------------------------------------------------------------------------

// listenerSet is an ordered set of change callbacks for one subject.
// Adding the same function twice is a no-op; delivery order is insertion
// order. Identity is the function's code pointer, so the same named function
// or the same stored closure value deduplicates, while two distinct closures
// over the same code do not (they have distinct pointers only when the
// compiler materializes separate funcvals, which is exactly the identity
// callers can reason about).
//
// Not safe for concurrent use; a listenerSet is owned by its subject's
// goroutine like everything else on a view.
type listenerSet[F any] struct {
	entries []listenerEntry[F]
}

type listenerEntry[F any] struct {
	key uintptr
	fn  F
}

func funcKey(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// add appends fn unless an identical function is already registered.
// Returns whether the set changed.
func (s *listenerSet[F]) add(fn F) bool {
	key := funcKey(fn)
	for _, e := range s.entries {
		if e.key == key {
			return false
		}
	}
	s.entries = append(s.entries, listenerEntry[F]{key: key, fn: fn})
	return true
}

// remove drops the entry registered for fn. Returns whether one was found.
func (s *listenerSet[F]) remove(fn F) bool {
	key := funcKey(fn)
	for i, e := range s.entries {
		if e.key == key {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns the callbacks in delivery order. Dispatch iterates the
// snapshot, so adding or removing listeners from inside a callback cannot
// corrupt the in-progress delivery.
func (s *listenerSet[F]) snapshot() []F {
	if len(s.entries) == 0 {
		return nil
	}
	out := make([]F, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.fn
	}
	return out
}

func (s *listenerSet[F]) clear() {
	s.entries = nil
}
