package store

import (
	"github.com/emberdb/ember/lib/executor"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a Store during Open
type Options struct {
	// Executor runs background queries and transactions for this store.
	// Nil selects the shared process-wide pool.
	Executor *executor.Executor

	// CreateMissing creates a fresh, empty database when no snapshot file
	// exists at the path. When false, a missing file fails with a
	// FileAccess error.
	CreateMissing bool
}

// DefaultOptions returns the default store options
func DefaultOptions() *Options {
	return &Options{
		Executor:      nil,
		CreateMissing: true,
	}
}
