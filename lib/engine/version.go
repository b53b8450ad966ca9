package engine

// --------------------------------------------------------------------------
// Version Type
// --------------------------------------------------------------------------

// Version is an opaque, totally-ordered identifier assigned by the storage
// engine at each commit. Versions observed by any single goroutine are
// monotonically non-decreasing. Callers should only compare versions for
// equality and ordering, never interpret the numeric value.
type Version uint64

// After reports whether v is strictly newer than other.
func (v Version) After(other Version) bool {
	return v > other
}

// AtLeast reports whether v is the same as or newer than other.
func (v Version) AtLeast(other Version) bool {
	return v >= other
}

// --------------------------------------------------------------------------
// Version Tracker
// --------------------------------------------------------------------------

// Tracker wraps an engine's "current committed version" concept. It has no
// side effects and is safe to call concurrently from any goroutine without
// blocking writers.
type Tracker struct {
	eng Engine
}

// NewTracker creates a tracker bound to the given engine.
func NewTracker(eng Engine) Tracker {
	return Tracker{eng: eng}
}

// Current returns the latest version committed to storage, visible
// process-wide, independent of any pinned snapshot.
func (t Tracker) Current() Version {
	return t.eng.CurrentVersion()
}

// AtLeast reports whether version a is the same as or newer than b.
func (t Tracker) AtLeast(a, b Version) bool {
	return a.AtLeast(b)
}
