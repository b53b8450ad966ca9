package testing

import (
	"fmt"
	"testing"

	"github.com/emberdb/ember/lib/engine"
)

// RunEngineBenchmarks runs all benchmarks for an engine.Engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {

	b.Run("Commit", func(b *testing.B) {
		benchmarkCommit(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Query", func(b *testing.B) {
		benchmarkQuery(b, factory())
	})

	b.Run("Advance", func(b *testing.B) {
		benchmarkAdvance(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkCommit(b *testing.B, eng engine.Engine) {
	b.Cleanup(func() { eng.Close() })

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wtx, err := eng.BeginWrite()
		if err != nil {
			b.Fatalf("BeginWrite failed: %v", err)
		}
		wtx.Set("bench", fmt.Sprintf("key-%d", i%1000), map[string][]byte{"n": []byte(fmt.Sprint(i))})
		if _, err := wtx.Commit(); err != nil {
			b.Fatalf("Commit failed: %v", err)
		}
	}
}

func benchmarkGet(b *testing.B, eng engine.Engine) {
	b.Cleanup(func() { eng.Close() })

	wtx, err := eng.BeginWrite()
	if err != nil {
		b.Fatalf("BeginWrite failed: %v", err)
	}
	for i := 0; i < 1000; i++ {
		wtx.Set("bench", fmt.Sprintf("key-%d", i), map[string][]byte{"n": []byte(fmt.Sprint(i))})
	}
	if _, err := wtx.Commit(); err != nil {
		b.Fatalf("Commit failed: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rtx, err := eng.OpenReadTx(0)
		if err != nil {
			b.Errorf("OpenReadTx failed: %v", err)
			return
		}
		defer rtx.Close()

		counter := 0
		for pb.Next() {
			rtx.Get("bench", fmt.Sprintf("key-%d", counter%1000))
			counter++
		}
	})
}

func benchmarkQuery(b *testing.B, eng engine.Engine) {
	b.Cleanup(func() { eng.Close() })

	wtx, err := eng.BeginWrite()
	if err != nil {
		b.Fatalf("BeginWrite failed: %v", err)
	}
	for i := 0; i < 1000; i++ {
		wtx.Set("bench", fmt.Sprintf("key-%d", i), map[string][]byte{
			"bucket": []byte(fmt.Sprint(i % 10)),
		})
	}
	if _, err := wtx.Commit(); err != nil {
		b.Fatalf("Commit failed: %v", err)
	}

	rtx, err := eng.OpenReadTx(0)
	if err != nil {
		b.Fatalf("OpenReadTx failed: %v", err)
	}
	defer rtx.Close()
	pred := engine.Where("bucket", engine.OpEq, []byte("3"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.ExecuteQuery(rtx, "bench", pred); err != nil {
			b.Fatalf("ExecuteQuery failed: %v", err)
		}
	}
}

func benchmarkAdvance(b *testing.B, eng engine.Engine) {
	b.Cleanup(func() { eng.Close() })

	rtx, err := eng.OpenReadTx(0)
	if err != nil {
		b.Fatalf("OpenReadTx failed: %v", err)
	}
	defer rtx.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wtx, err := eng.BeginWrite()
		if err != nil {
			b.Fatalf("BeginWrite failed: %v", err)
		}
		wtx.Set("bench", "key", map[string][]byte{"n": []byte(fmt.Sprint(i))})
		if _, err := wtx.Commit(); err != nil {
			b.Fatalf("Commit failed: %v", err)
		}
		if _, err := rtx.Advance(); err != nil {
			b.Fatalf("Advance failed: %v", err)
		}
	}
}
