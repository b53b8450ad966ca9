package store

import (
	"os"
	"sync"

	"github.com/emberdb/ember/lib/engine"
	"github.com/emberdb/ember/lib/engine/engines/cedar"
	"github.com/emberdb/ember/lib/executor"
	"github.com/emberdb/ember/lib/registry"
)

// --------------------------------------------------------------------------
// Shared Engine Table
// --------------------------------------------------------------------------

// sharedDB is the engine instance behind every handle open on one path. The
// engine is shared across goroutines (it is internally synchronized); the
// Store handles on top of it are not.
type sharedDB struct {
	path   string
	eng    engine.Engine
	refs   int
	unhook func()
}

var (
	sharedMu sync.Mutex
	sharedBy = map[string]*sharedDB{}
)

// acquireShared returns the engine for path, creating and loading it on the
// first open. The single commit hook per engine fans the new version out to
// every registered owner on the path except the committing goroutine, which
// observes its own commit synchronously.
func acquireShared(path string, opts *Options) (*sharedDB, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sh, ok := sharedBy[path]; ok {
		sh.refs++
		return sh, nil
	}

	eng, err := loadEngine(path, opts)
	if err != nil {
		return nil, err
	}

	sh := &sharedDB{path: path, eng: eng, refs: 1}
	sh.unhook = eng.RegisterCommitHook(func(v engine.Version) {
		committer := registry.GID()
		registry.Default.ForEachOther(path, committer, func(o registry.Owner) {
			o.SignalVersion(v)
		})
	})
	sharedBy[path] = sh
	return sh, nil
}

// releaseShared drops one reference. The last release unregisters the commit
// hook and closes the engine, which makes the file eligible for compaction
// or deletion.
func releaseShared(path string) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	sh, ok := sharedBy[path]
	if !ok {
		return nil
	}
	sh.refs--
	if sh.refs > 0 {
		return nil
	}
	delete(sharedBy, path)
	sh.unhook()
	return sh.eng.Close()
}

// loadEngine creates the engine for a path, restoring an existing snapshot
// file when one is present.
func loadEngine(path string, opts *Options) (engine.Engine, error) {
	eng := cedar.NewCedarDB(nil)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && opts.CreateMissing {
			return eng, nil
		}
		return nil, engine.NewErrorf(engine.RetCFileAccess, "cannot open database file %q: %v", path, err)
	}
	defer f.Close()

	if err := eng.Load(f); err != nil {
		return nil, err
	}
	return eng, nil
}

// --------------------------------------------------------------------------
// Shared Executor
// --------------------------------------------------------------------------

var (
	defaultExecOnce sync.Once
	defaultExec     *executor.Executor
)

// sharedExecutor returns the lazily created process-wide background pool.
func sharedExecutor() *executor.Executor {
	defaultExecOnce.Do(func() {
		defaultExec = executor.New(nil)
	})
	return defaultExec
}
