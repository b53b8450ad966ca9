package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emberdb/ember/lib/engine"
)

// EngineFactory creates a fresh engine instance for one test
type EngineFactory func() engine.Engine

// RunEngineTests runs the conformance suite for an engine.Engine implementation
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {

	t.Run(name+"/VersionMonotonic", func(t *testing.T) {
		testVersionMonotonic(t, factory())
	})

	t.Run(name+"/ReadIsolation", func(t *testing.T) {
		testReadIsolation(t, factory())
	})

	t.Run(name+"/AdvanceInPlace", func(t *testing.T) {
		testAdvanceInPlace(t, factory())
	})

	t.Run(name+"/DeleteTombstone", func(t *testing.T) {
		testDeleteTombstone(t, factory())
	})

	t.Run(name+"/QueryPredicate", func(t *testing.T) {
		testQueryPredicate(t, factory())
	})

	t.Run(name+"/QueryMissingTable", func(t *testing.T) {
		testQueryMissingTable(t, factory())
	})

	t.Run(name+"/DropTable", func(t *testing.T) {
		testDropTable(t, factory())
	})

	t.Run(name+"/CommitHook", func(t *testing.T) {
		testCommitHook(t, factory())
	})

	t.Run(name+"/WriterSerialization", func(t *testing.T) {
		testWriterSerialization(t, factory())
	})

	t.Run(name+"/SaveLoadRoundtrip", func(t *testing.T) {
		testSaveLoadRoundtrip(t, factory)
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func requireFeature(t *testing.T, eng engine.Engine, f engine.Feature) {
	t.Helper()
	if !eng.SupportsFeature(f) {
		t.Skipf("engine does not support feature %s", f)
	}
}

func mustCommit(t *testing.T, eng engine.Engine, table string, rows map[string]map[string][]byte) engine.Version {
	t.Helper()
	wtx, err := eng.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	for key, fields := range rows {
		wtx.Set(table, key, fields)
	}
	v, err := wtx.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return v
}

func fields(kv ...string) map[string][]byte {
	m := make(map[string][]byte, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = []byte(kv[i+1])
	}
	return m
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testVersionMonotonic(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureWriteTx)

	prev := eng.CurrentVersion()
	for i := 0; i < 10; i++ {
		v := mustCommit(t, eng, "items", map[string]map[string][]byte{
			fmt.Sprintf("item-%d", i): fields("n", fmt.Sprint(i)),
		})
		if !v.After(prev) {
			t.Fatalf("commit %d: version %d is not after %d", i, v, prev)
		}
		if eng.CurrentVersion() != v {
			t.Errorf("CurrentVersion() = %d, want %d", eng.CurrentVersion(), v)
		}
		prev = v
	}
}

func testReadIsolation(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureReadTx|engine.FeatureWriteTx)

	v1 := mustCommit(t, eng, "items", map[string]map[string][]byte{
		"a": fields("color", "red"),
	})

	rtx, err := eng.OpenReadTx(v1)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer rtx.Close()

	// Commit a newer value; the pinned reader must not see it.
	mustCommit(t, eng, "items", map[string]map[string][]byte{
		"a": fields("color", "blue"),
	})

	row, found := rtx.Get("items", "a")
	if !found {
		t.Fatal("pinned reader lost row 'a'")
	}
	if got, _ := row.Field("color"); !bytes.Equal(got, []byte("red")) {
		t.Errorf("pinned reader sees %q, want %q", got, "red")
	}
	if row.Version != v1 {
		t.Errorf("row version = %d, want %d", row.Version, v1)
	}
}

func testAdvanceInPlace(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureReadTx|engine.FeatureWriteTx)

	v1 := mustCommit(t, eng, "items", map[string]map[string][]byte{
		"a": fields("color", "red"),
	})

	rtx, err := eng.OpenReadTx(0)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer rtx.Close()
	if rtx.Version() != v1 {
		t.Fatalf("fresh read tx pinned at %d, want %d", rtx.Version(), v1)
	}

	// Advance with no commits is a no-op
	v, err := rtx.Advance()
	if err != nil || v != v1 {
		t.Fatalf("no-op Advance returned (%d, %v), want (%d, nil)", v, err, v1)
	}

	v2 := mustCommit(t, eng, "items", map[string]map[string][]byte{
		"a": fields("color", "blue"),
	})

	v, err = rtx.Advance()
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if v != v2 {
		t.Fatalf("Advance returned %d, want %d", v, v2)
	}
	row, _ := rtx.Get("items", "a")
	if got, _ := row.Field("color"); !bytes.Equal(got, []byte("blue")) {
		t.Errorf("after advance reader sees %q, want %q", got, "blue")
	}
}

func testDeleteTombstone(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureReadTx|engine.FeatureWriteTx)

	v1 := mustCommit(t, eng, "items", map[string]map[string][]byte{
		"a": fields("color", "red"),
	})

	old, err := eng.OpenReadTx(v1)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer old.Close()

	wtx, err := eng.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	wtx.Delete("items", "a")
	if _, err := wtx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// Old reader still sees the row, a fresh reader does not.
	if _, found := old.Get("items", "a"); !found {
		t.Error("pinned reader lost deleted row")
	}
	fresh, err := eng.OpenReadTx(0)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer fresh.Close()
	if _, found := fresh.Get("items", "a"); found {
		t.Error("fresh reader still sees deleted row")
	}
}

func testQueryPredicate(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureQuery)

	mustCommit(t, eng, "users", map[string]map[string][]byte{
		"u1": fields("city", "berlin", "name", "ada"),
		"u2": fields("city", "munich", "name", "bob"),
		"u3": fields("city", "berlin", "name", "cam"),
	})

	rtx, err := eng.OpenReadTx(0)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer rtx.Close()

	rows, err := eng.ExecuteQuery(rtx, "users", engine.Where("city", engine.OpEq, []byte("berlin")))
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// Results are ordered by key
	if rows[0].Key != "u1" || rows[1].Key != "u3" {
		t.Errorf("got keys %v, want [u1 u3]", rows.Keys())
	}

	// Empty predicate matches everything
	all, err := eng.ExecuteQuery(rtx, "users", nil)
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("empty predicate matched %d rows, want 3", len(all))
	}

	// Key prefix predicate
	prefixed, err := eng.ExecuteQuery(rtx, "users", engine.Where(engine.FieldKey, engine.OpPrefix, []byte("u")))
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if len(prefixed) != 3 {
		t.Errorf("key prefix matched %d rows, want 3", len(prefixed))
	}
}

func testQueryMissingTable(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureQuery)

	rtx, err := eng.OpenReadTx(0)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer rtx.Close()

	_, err = eng.ExecuteQuery(rtx, "nope", nil)
	if !engine.IsCode(err, engine.RetCQueryFailed) {
		t.Errorf("query on missing table returned %v, want QueryFailed", err)
	}
}

func testDropTable(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureQuery|engine.FeatureWriteTx)

	v1 := mustCommit(t, eng, "users", map[string]map[string][]byte{
		"u1": fields("name", "ada"),
	})

	old, err := eng.OpenReadTx(v1)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer old.Close()

	wtx, err := eng.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	wtx.DropTable("users")
	if _, err := wtx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// Reader pinned before the drop still queries the table.
	rows, err := eng.ExecuteQuery(old, "users", nil)
	if err != nil {
		t.Fatalf("query on pre-drop reader failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("pre-drop reader got %d rows, want 1", len(rows))
	}

	// A fresh reader fails.
	fresh, err := eng.OpenReadTx(0)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer fresh.Close()
	if _, err := eng.ExecuteQuery(fresh, "users", nil); !engine.IsCode(err, engine.RetCQueryFailed) {
		t.Errorf("query on dropped table returned %v, want QueryFailed", err)
	}
}

func testCommitHook(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureCommitHooks)

	var mu sync.Mutex
	var seen []engine.Version

	unregister := eng.RegisterCommitHook(func(v engine.Version) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	v1 := mustCommit(t, eng, "items", map[string]map[string][]byte{"a": fields("x", "1")})
	v2 := mustCommit(t, eng, "items", map[string]map[string][]byte{"a": fields("x", "2")})

	// Hooks fire synchronously, so the slice is complete here.
	mu.Lock()
	got := append([]engine.Version(nil), seen...)
	mu.Unlock()
	if len(got) != 2 || got[0] != v1 || got[1] != v2 {
		t.Fatalf("hook saw %v, want [%d %d]", got, v1, v2)
	}

	unregister()
	mustCommit(t, eng, "items", map[string]map[string][]byte{"a": fields("x", "3")})
	mu.Lock()
	n := len(seen)
	mu.Unlock()
	if n != 2 {
		t.Errorf("unregistered hook still fired (%d calls)", n)
	}
}

func testWriterSerialization(t *testing.T, eng engine.Engine) {
	t.Cleanup(func() { eng.Close() })
	requireFeature(t, eng, engine.FeatureWriteTx)

	const writers = 8
	const commitsPerWriter = 25

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < commitsPerWriter; i++ {
				wtx, err := eng.BeginWrite()
				if err != nil {
					errs <- err
					return
				}
				wtx.Set("counters", fmt.Sprintf("w%d", w), fields("i", fmt.Sprint(i)))
				if _, err := wtx.Commit(); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case err := <-errs:
		t.Fatalf("concurrent writer failed: %v", err)
	case <-time.After(30 * time.Second):
		t.Fatal("timeout waiting for concurrent writers")
	}

	// Every commit got its own version.
	if got := uint64(eng.CurrentVersion()); got != writers*commitsPerWriter {
		t.Errorf("final version = %d, want %d", got, writers*commitsPerWriter)
	}
}

func testSaveLoadRoundtrip(t *testing.T, factory EngineFactory) {
	src := factory()
	t.Cleanup(func() { src.Close() })
	requireFeature(t, src, engine.FeatureSave|engine.FeatureLoad)

	mustCommit(t, src, "users", map[string]map[string][]byte{
		"u1": fields("name", "ada", "city", "berlin"),
		"u2": fields("name", "bob"),
	})
	mustCommit(t, src, "tags", map[string]map[string][]byte{
		"t1": fields("label", "red"),
	})
	want := src.CurrentVersion()

	var buf bytes.Buffer
	if err := src.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	dst := factory()
	t.Cleanup(func() { dst.Close() })
	if err := dst.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if dst.CurrentVersion() != want {
		t.Errorf("loaded version = %d, want %d", dst.CurrentVersion(), want)
	}

	rtx, err := dst.OpenReadTx(0)
	if err != nil {
		t.Fatalf("OpenReadTx failed: %v", err)
	}
	defer rtx.Close()

	row, found := rtx.Get("users", "u1")
	if !found {
		t.Fatal("loaded engine lost row users/u1")
	}
	if got, _ := row.Field("city"); !bytes.Equal(got, []byte("berlin")) {
		t.Errorf("loaded field = %q, want %q", got, "berlin")
	}
	if _, found := rtx.Get("tags", "t1"); !found {
		t.Error("loaded engine lost row tags/t1")
	}
}
