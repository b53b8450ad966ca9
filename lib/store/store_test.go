package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberdb/ember/lib/engine"
	"github.com/emberdb/ember/lib/executor"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.ember")
}

func openTest(t *testing.T, path string) *Store {
	t.Helper()
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func fields(kv ...string) map[string][]byte {
	m := make(map[string][]byte, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = []byte(kv[i+1])
	}
	return m
}

// onOtherGoroutine runs fn on a fresh goroutine and fails the test on error.
func onOtherGoroutine(t *testing.T, fn func() error) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	if err := <-errCh; err != nil {
		t.Fatalf("foreign goroutine failed: %v", err)
	}
}

// commitOther opens its own handle on a fresh goroutine, applies mutate in
// one transaction and closes the handle again.
func commitOther(t *testing.T, path string, mutate func(tx *Store) error) {
	t.Helper()
	onOtherGoroutine(t, func() error {
		st, err := Open(path, nil)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.Write(mutate)
	})
}

// refreshUntil refreshes st until cond holds or the timeout elapses. Async
// delivery happens during Refresh, so polling like this is how a non-loop
// owner observes background completions.
func refreshUntil(t *testing.T, st *Store, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := st.Refresh(); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestReopenSameGoroutineReturnsSameHandle(t *testing.T) {
	path := tempPath(t)
	a := openTest(t, path)

	b, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if a != b {
		t.Fatal("reopen on the same goroutine returned a different handle")
	}

	// The first Close only drops a reference.
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := a.Version(); err != nil {
		t.Fatalf("handle unusable after refcounted close: %v", err)
	}
}

func TestOpenMissingFileWithoutCreate(t *testing.T) {
	_, err := Open(tempPath(t), &Options{CreateMissing: false})
	if !engine.IsCode(err, engine.RetCFileAccess) {
		t.Fatalf("Open returned %v, want FileAccess", err)
	}
}

func TestOpenIncompatibleFile(t *testing.T) {
	path := tempPath(t)
	if err := os.WriteFile(path, []byte("definitely not a snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path, nil)
	if !engine.IsCode(err, engine.RetCIncompatibleFormat) {
		t.Fatalf("Open returned %v, want IncompatibleFormat", err)
	}
}

func TestCloseInvalidatesViews(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "u1", fields("name", "ada"))
	}); err != nil {
		t.Fatal(err)
	}

	coll, err := st.Query("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := st.Find("users", "u1")
	if err != nil || obj == nil {
		t.Fatalf("Find failed: %v %v", obj, err)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if coll.IsValid() || obj.IsValid() {
		t.Fatal("views still valid after store close")
	}
	if _, err := coll.Size(); !engine.IsCode(err, engine.RetCClosedHandle) {
		t.Fatalf("collection access returned %v, want ClosedHandle", err)
	}
	if _, _, err := obj.Field("name"); !engine.IsCode(err, engine.RetCClosedHandle) {
		t.Fatalf("object access returned %v, want ClosedHandle", err)
	}
	if _, err := st.Version(); !engine.IsCode(err, engine.RetCClosedHandle) {
		t.Fatalf("store access returned %v, want ClosedHandle", err)
	}
}

// --------------------------------------------------------------------------
// Goroutine Confinement
// --------------------------------------------------------------------------

func TestCrossGoroutineAccessFails(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "u1", fields("name", "ada"))
	}); err != nil {
		t.Fatal(err)
	}
	coll, err := st.Query("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := st.Find("users", "u1")
	if err != nil {
		t.Fatal(err)
	}

	onOtherGoroutine(t, func() error {
		if _, err := st.Version(); !engine.IsCode(err, engine.RetCIllegalState) {
			t.Errorf("foreign Version returned %v, want IllegalState", err)
		}
		if _, err := st.Refresh(); !engine.IsCode(err, engine.RetCIllegalState) {
			t.Errorf("foreign Refresh returned %v, want IllegalState", err)
		}
		if _, err := coll.Size(); !engine.IsCode(err, engine.RetCIllegalState) {
			t.Errorf("foreign collection access returned %v, want IllegalState", err)
		}
		if err := coll.Watch(func(*Collection, ChangeSet) {}); !engine.IsCode(err, engine.RetCIllegalState) {
			t.Errorf("foreign Watch returned %v, want IllegalState", err)
		}
		if _, _, err := obj.Field("name"); !engine.IsCode(err, engine.RetCIllegalState) {
			t.Errorf("foreign object access returned %v, want IllegalState", err)
		}
		if coll.IsValid() {
			t.Error("IsValid true on a foreign goroutine")
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Write Transactions
// --------------------------------------------------------------------------

func TestRefreshDuringWriteTx(t *testing.T) {
	st := openTest(t, tempPath(t))

	if err := st.BeginWrite(); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Refresh(); !engine.IsCode(err, engine.RetCIllegalState) {
		t.Fatalf("Refresh inside write tx returned %v, want IllegalState", err)
	}
	if err := st.BeginWrite(); !engine.IsCode(err, engine.RetCIllegalState) {
		t.Fatalf("nested BeginWrite returned %v, want IllegalState", err)
	}
	if err := st.Cancel(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteCancelsOnError(t *testing.T) {
	st := openTest(t, tempPath(t))

	wantErr := engine.NewError(engine.RetCInternalError, "boom")
	err := st.Write(func(tx *Store) error {
		tx.Set("users", "u1", fields("name", "ada"))
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Write returned %v, want the callback error", err)
	}

	obj, err := st.Find("users", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if obj != nil {
		t.Fatal("cancelled write left data behind")
	}
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

// TestListenerExactlyOncePerObservedTransition checks that a listener fires
// exactly once per version transition the owner actually observes: one
// refresh per commit gives one callback per commit, while several commits
// before a single refresh collapse into exactly one callback.
func TestListenerExactlyOncePerObservedTransition(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "init", fields("n", "0"))
	}); err != nil {
		t.Fatal(err)
	}

	coll, err := st.Query("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	var callbacks int
	if err := coll.Watch(func(*Collection, ChangeSet) { callbacks++ }); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		key := string(rune('a' + i))
		commitOther(t, path, func(tx *Store) error {
			return tx.Set("users", key, fields("n", key))
		})
		advanced, err := st.Refresh()
		if err != nil {
			t.Fatal(err)
		}
		if !advanced {
			t.Fatalf("refresh %d did not advance", i)
		}
		if callbacks != i+1 {
			t.Fatalf("after commit %d: %d callbacks, want %d", i, callbacks, i+1)
		}
	}

	// Two commits, one refresh: collapsed into a single diff.
	commitOther(t, path, func(tx *Store) error {
		return tx.Set("users", "x", fields("n", "x"))
	})
	commitOther(t, path, func(tx *Store) error {
		return tx.Set("users", "y", fields("n", "y"))
	})
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}
	if callbacks != 4 {
		t.Fatalf("collapsed commits fired %d callbacks, want 4 total", callbacks)
	}

	// A refresh with nothing new fires nothing.
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}
	if callbacks != 4 {
		t.Fatalf("idle refresh fired a callback (%d total)", callbacks)
	}
}

func TestDuplicateListenerSingleDelivery(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "init", fields("n", "0"))
	}); err != nil {
		t.Fatal(err)
	}

	coll, err := st.Query("users", nil)
	if err != nil {
		t.Fatal(err)
	}

	var callbacks int
	fn := func(*Collection, ChangeSet) { callbacks++ }
	if err := coll.Watch(fn); err != nil {
		t.Fatal(err)
	}
	if err := coll.Watch(fn); err != nil {
		t.Fatal(err)
	}

	commitOther(t, path, func(tx *Store) error {
		return tx.Set("users", "u1", fields("n", "1"))
	})
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}
	if callbacks != 1 {
		t.Fatalf("duplicate registration delivered %d callbacks, want 1", callbacks)
	}
}

// TestUnwatchStopsDelivery verifies that a removed listener no longer
// receives change sets while remaining listeners still do.
func TestUnwatchStopsDelivery(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "init", fields("n", "0"))
	}); err != nil {
		t.Fatal(err)
	}

	coll, err := st.Query("users", nil)
	if err != nil {
		t.Fatal(err)
	}

	var removed, kept int
	fnRemoved := func(*Collection, ChangeSet) { removed++ }
	fnKept := func(*Collection, ChangeSet) { kept++ }
	if err := coll.Watch(fnRemoved); err != nil {
		t.Fatal(err)
	}
	if err := coll.Watch(fnKept); err != nil {
		t.Fatal(err)
	}
	if err := coll.Unwatch(fnRemoved); err != nil {
		t.Fatal(err)
	}

	commitOther(t, path, func(tx *Store) error {
		return tx.Set("users", "u1", fields("n", "1"))
	})
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("unwatched listener delivered %d callbacks, want 0", removed)
	}
	if kept != 1 {
		t.Fatalf("remaining listener delivered %d callbacks, want 1", kept)
	}
}

// TestListenerMutationDuringDispatch verifies that callbacks may add and
// remove listeners while a delivery is in progress: the in-flight delivery
// still reaches everyone registered at fire time, and the mutations take
// effect from the next transition on.
func TestListenerMutationDuringDispatch(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "init", fields("n", "0"))
	}); err != nil {
		t.Fatal(err)
	}

	coll, err := st.Query("users", nil)
	if err != nil {
		t.Fatal(err)
	}

	var first, second, late int
	lateFn := func(*Collection, ChangeSet) { late++ }
	var firstFn CollectionChangeFunc
	firstFn = func(c *Collection, _ ChangeSet) {
		first++
		// Self-removal and a new registration mid-delivery.
		if err := c.Unwatch(firstFn); err != nil {
			t.Errorf("Unwatch inside callback failed: %v", err)
		}
		if err := c.Watch(lateFn); err != nil {
			t.Errorf("Watch inside callback failed: %v", err)
		}
	}
	secondFn := func(*Collection, ChangeSet) { second++ }

	if err := coll.Watch(firstFn); err != nil {
		t.Fatal(err)
	}
	if err := coll.Watch(secondFn); err != nil {
		t.Fatal(err)
	}

	commitOther(t, path, func(tx *Store) error {
		return tx.Set("users", "u1", fields("n", "1"))
	})
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}

	// The first transition reaches both pre-registered listeners; the one
	// added mid-delivery must not observe the in-flight change set.
	if first != 1 || second != 1 || late != 0 {
		t.Fatalf("first transition delivered first=%d second=%d late=%d, want 1 1 0", first, second, late)
	}

	commitOther(t, path, func(tx *Store) error {
		return tx.Set("users", "u2", fields("n", "2"))
	})
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}

	// The second transition skips the self-removed listener and reaches the
	// newly added one.
	if first != 1 || second != 2 || late != 1 {
		t.Fatalf("second transition delivered first=%d second=%d late=%d, want 1 2 1", first, second, late)
	}
}

func TestChangeSetContents(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		tx.Set("users", "keep", fields("n", "1"))
		tx.Set("users", "gone", fields("n", "1"))
		return tx.Set("users", "touch", fields("n", "1"))
	}); err != nil {
		t.Fatal(err)
	}

	coll, err := st.Query("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	var got ChangeSet
	coll.Watch(func(_ *Collection, cs ChangeSet) { got = cs })

	commitOther(t, path, func(tx *Store) error {
		tx.Set("users", "new", fields("n", "1"))
		tx.Set("users", "touch", fields("n", "2"))
		return tx.DeleteRow("users", "gone")
	})
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}

	if len(got.Insertions) != 1 || got.Insertions[0] != "new" {
		t.Errorf("Insertions = %v, want [new]", got.Insertions)
	}
	if len(got.Deletions) != 1 || got.Deletions[0] != "gone" {
		t.Errorf("Deletions = %v, want [gone]", got.Deletions)
	}
	if len(got.Modifications) != 1 || got.Modifications[0] != "touch" {
		t.Errorf("Modifications = %v, want [touch]", got.Modifications)
	}
}

func TestObjectDeletionNotification(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "u1", fields("name", "ada"))
	}); err != nil {
		t.Fatal(err)
	}
	obj, err := st.Find("users", "u1")
	if err != nil || obj == nil {
		t.Fatalf("Find failed: %v %v", obj, err)
	}

	var final ChangeSet
	var callbacks int
	obj.Watch(func(_ *Object, cs ChangeSet) {
		callbacks++
		final = cs
	})

	commitOther(t, path, func(tx *Store) error {
		return tx.DeleteRow("users", "u1")
	})
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}

	if callbacks != 1 {
		t.Fatalf("deletion fired %d callbacks, want 1", callbacks)
	}
	if !final.Deleted {
		t.Fatal("final change set not marked Deleted")
	}
	if obj.IsValid() {
		t.Fatal("object still valid after its row was deleted")
	}
	if _, _, err := obj.Field("name"); !engine.IsCode(err, engine.RetCClosedHandle) {
		t.Fatalf("deleted object access returned %v, want ClosedHandle", err)
	}
}

// --------------------------------------------------------------------------
// Async Queries
// --------------------------------------------------------------------------

func TestAsyncQueryDeliversAtSubmissionVersion(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		tx.Set("users", "u1", fields("n", "1"))
		return tx.Set("users", "u2", fields("n", "2"))
	}); err != nil {
		t.Fatal(err)
	}

	coll, err := st.QueryAsync("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	if coll.IsLoaded() {
		t.Fatal("async collection loaded before delivery")
	}

	var loads int
	coll.Watch(func(*Collection, ChangeSet) { loads++ })

	refreshUntil(t, st, coll.IsLoaded)

	keys, err := coll.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "u1" || keys[1] != "u2" {
		t.Fatalf("loaded keys = %v, want [u1 u2]", keys)
	}
	if loads != 1 {
		t.Fatalf("initial load fired %d callbacks, want exactly 1", loads)
	}

	// Nothing further to deliver.
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Fatalf("idle refresh re-delivered the result (%d callbacks)", loads)
	}
}

// TestAsyncQueryNeverDeliversStaleResult covers the resubmission race: a
// local commit between submission and delivery must discard the stale run;
// the first result the caller sees reflects the newer version.
func TestAsyncQueryNeverDeliversStaleResult(t *testing.T) {
	path := tempPath(t)
	exec := executor.NewSingleWorker()
	defer exec.Close()

	st, err := Open(path, &Options{Executor: exec, CreateMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "u1", fields("n", "1"))
	}); err != nil {
		t.Fatal(err)
	}

	// Hold the background run until after the local commit.
	exec.Pause()

	coll, err := st.QueryAsync("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	var firstKeys []string
	coll.Watch(func(c *Collection, _ ChangeSet) {
		if firstKeys == nil {
			firstKeys, _ = c.Keys()
		}
	})

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "u2", fields("n", "2"))
	}); err != nil {
		t.Fatal(err)
	}

	exec.Resume()
	refreshUntil(t, st, coll.IsLoaded)

	if len(firstKeys) != 2 {
		t.Fatalf("first delivered result %v is stale, want both rows", firstKeys)
	}
}

func TestAsyncQueryFailureBindsEmptyLoadedResult(t *testing.T) {
	path := tempPath(t)
	exec := executor.NewSingleWorker()
	defer exec.Close()

	st, err := Open(path, &Options{Executor: exec, CreateMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "u1", fields("n", "1"))
	}); err != nil {
		t.Fatal(err)
	}

	// Drop the table between submission and execution.
	exec.Pause()
	coll, err := st.QueryAsync("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Write(func(tx *Store) error {
		return tx.DropTable("users")
	}); err != nil {
		t.Fatal(err)
	}
	exec.Resume()

	refreshUntil(t, st, coll.IsLoaded)

	if !coll.IsValid() {
		t.Fatal("failed query invalidated the collection")
	}
	size, err := coll.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("failed query bound %d rows, want permanently empty", size)
	}
	if loadErr := coll.Err(); !engine.IsCode(loadErr, engine.RetCQueryFailed) {
		t.Fatalf("Err() = %v, want QueryFailed", loadErr)
	}
}

func TestAsyncCancelledOnCloseIsSilent(t *testing.T) {
	path := tempPath(t)
	exec := executor.NewSingleWorker()
	defer exec.Close()

	st, err := Open(path, &Options{Executor: exec, CreateMissing: true})
	if err != nil {
		t.Fatal(err)
	}

	exec.Pause()
	coll, err := st.QueryAsync("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	var callbacks int
	coll.Watch(func(*Collection, ChangeSet) { callbacks++ })

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	exec.Resume()

	// Let the in-flight run finish and try to deliver.
	time.Sleep(50 * time.Millisecond)
	if callbacks != 0 {
		t.Fatalf("cancelled query fired %d callbacks, want none", callbacks)
	}
	if coll.IsValid() {
		t.Fatal("collection valid after store close")
	}
}

func TestFindAsync(t *testing.T) {
	path := tempPath(t)
	st := openTest(t, path)

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "u1", fields("name", "ada"))
	}); err != nil {
		t.Fatal(err)
	}

	obj, err := st.FindAsync("users", "u1")
	if err != nil {
		t.Fatal(err)
	}
	refreshUntil(t, st, obj.IsLoaded)

	name, ok, err := obj.Field("name")
	if err != nil || !ok || string(name) != "ada" {
		t.Fatalf("Field = %q %v %v, want ada", name, ok, err)
	}

	// A missing key loads as an existing=false object.
	ghost, err := st.FindAsync("users", "nobody")
	if err != nil {
		t.Fatal(err)
	}
	refreshUntil(t, st, ghost.IsLoaded)
	exists, err := ghost.Exists()
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("missing key loaded as existing")
	}
	if !ghost.IsValid() {
		t.Fatal("missing key invalidated the object")
	}
}

// TestAsyncResubmitScenario is the end-to-end race: open at V0, submit Q,
// commit to V1 before Q's pinned-at-V0 run finishes; Q is silently
// resubmitted and only a V1-consistent result reaches the listener.
func TestAsyncResubmitScenario(t *testing.T) {
	path := tempPath(t)
	exec := executor.NewSingleWorker()
	defer exec.Close()

	st, err := Open(path, &Options{Executor: exec, CreateMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.Write(func(tx *Store) error {
		return tx.Set("tasks", "t1", fields("state", "open"))
	}); err != nil {
		t.Fatal(err)
	}
	v0, _ := st.Version()

	exec.Pause()
	coll, err := st.QueryAsync("tasks", engine.Where("state", engine.OpEq, []byte("open")))
	if err != nil {
		t.Fatal(err)
	}

	var deliveries [][]string
	coll.Watch(func(c *Collection, _ ChangeSet) {
		keys, _ := c.Keys()
		deliveries = append(deliveries, keys)
	})

	if err := st.Write(func(tx *Store) error {
		return tx.Set("tasks", "t2", fields("state", "open"))
	}); err != nil {
		t.Fatal(err)
	}
	v1, _ := st.Version()
	if !v1.After(v0) {
		t.Fatalf("commit did not advance the handle (%d -> %d)", v0, v1)
	}

	exec.Resume()
	refreshUntil(t, st, coll.IsLoaded)

	if len(deliveries) != 1 {
		t.Fatalf("listener saw %d deliveries, want exactly the final one", len(deliveries))
	}
	if got := deliveries[0]; len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Fatalf("first visible result %v is not V1-consistent", got)
	}
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func TestSnapshotRoundtrip(t *testing.T) {
	src := tempPath(t)
	st := openTest(t, src)

	if err := st.Write(func(tx *Store) error {
		tx.Set("users", "u1", fields("name", "ada"))
		return tx.Set("users", "u2", fields("name", "grace"))
	}); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "copy.ember")
	if err := st.WriteSnapshot(dst); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	restored := openTest(t, dst)
	coll, err := restored.Query("users", nil)
	if err != nil {
		t.Fatal(err)
	}
	keys, _ := coll.Keys()
	if len(keys) != 2 || keys[0] != "u1" || keys[1] != "u2" {
		t.Fatalf("restored keys = %v, want [u1 u2]", keys)
	}
}

func TestCompact(t *testing.T) {
	path := tempPath(t)
	exec := executor.New(nil)
	defer exec.Close()

	st, err := Open(path, &Options{Executor: exec, CreateMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.Write(func(tx *Store) error {
		return tx.Set("users", "u1", fields("name", "ada"))
	}); err != nil {
		t.Fatal(err)
	}

	if err := st.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// The rewritten file must load again.
	restored := openTest(t, path)
	obj, err := restored.Find("users", "u1")
	if err != nil || obj == nil {
		t.Fatalf("compacted snapshot lost data: %v %v", obj, err)
	}
}
