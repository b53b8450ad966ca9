package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emberdb/ember/lib/engine"
	"github.com/emberdb/ember/lib/registry"
)

func TestDrainRunsPostedWork(t *testing.T) {
	d := New(registry.GID())
	defer d.Close()

	var ran int
	d.Post(func() { ran++ })
	d.Post(func() { ran++ })

	n, err := d.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if n != 2 || ran != 2 {
		t.Fatalf("Drain ran %d (reported %d), want 2", ran, n)
	}
}

func TestDrainFromWrongGoroutine(t *testing.T) {
	d := New(registry.GID())
	defer d.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Drain()
		errCh <- err
	}()

	if err := <-errCh; !engine.IsCode(err, engine.RetCIllegalState) {
		t.Fatalf("foreign Drain returned %v, want IllegalState", err)
	}
}

// TestMultiProducerOrdering verifies that work posted by a single producer
// is drained in post order even while other producers are active.
func TestMultiProducerOrdering(t *testing.T) {
	d := New(registry.GID())
	defer d.Close()

	const producers = 4
	const perProducer = 200

	var mu sync.Mutex
	seen := make(map[int][]int)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				i := i
				d.Post(func() {
					mu.Lock()
					seen[p] = append(seen[p], i)
					mu.Unlock()
				})
			}
		}(p)
	}
	wg.Wait()

	n, err := d.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if n != producers*perProducer {
		t.Fatalf("drained %d units, want %d", n, producers*perProducer)
	}

	for p := 0; p < producers; p++ {
		for i, got := range seen[p] {
			if got != i {
				t.Fatalf("producer %d out of order at index %d: got %d", p, i, got)
			}
		}
	}
}

func TestDrainPicksUpWorkPostedDuringDrain(t *testing.T) {
	d := New(registry.GID())
	defer d.Close()

	var second bool
	d.Post(func() {
		d.Post(func() { second = true })
	})

	n, err := d.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if n != 2 || !second {
		t.Fatalf("Drain ran %d units, nested work ran=%v", n, second)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ownerReady := make(chan uint64)
	runDone := make(chan error, 1)
	var d *Dispatcher
	var ran atomic.Int64

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		d = New(registry.GID())
		ownerReady <- d.Owner()
		runDone <- d.Run(ctx)
	}()
	<-ownerReady
	defer d.Close()

	for i := 0; i < 10; i++ {
		d.Post(func() { ran.Add(1) })
	}
	deadline := time.Now().Add(time.Second)
	for ran.Load() != 10 {
		if time.Now().After(deadline) {
			t.Fatalf("Run executed %d units, want 10", ran.Load())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

// TestRunWakesOnEveryPost posts one unit at a time and waits for it to
// execute before posting the next, so every Post lands on a parked (or
// about-to-park) consumer. A signal issued in the window between the
// consumer's empty check and its park would leave Run asleep on a non-empty
// queue and this test stuck on one iteration.
func TestRunWakesOnEveryPost(t *testing.T) {
	ownerReady := make(chan struct{})
	runDone := make(chan error, 1)
	var d *Dispatcher

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		d = New(registry.GID())
		close(ownerReady)
		runDone <- d.Run(ctx)
	}()
	<-ownerReady
	defer d.Close()

	executed := make(chan int, 1)
	for i := 0; i < 10000; i++ {
		i := i
		if !d.Post(func() { executed <- i }) {
			t.Fatalf("Post %d rejected", i)
		}
		select {
		case got := <-executed:
			if got != i {
				t.Fatalf("executed unit %d, want %d", got, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("posted unit %d not executed while Run is parked (pending=%d)", i, d.Pending())
		}
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestRunFromWrongGoroutine(t *testing.T) {
	ownerReady := make(chan *Dispatcher)
	go func() {
		ownerReady <- New(registry.GID())
	}()
	d := <-ownerReady
	defer d.Close()

	if err := d.Run(context.Background()); !engine.IsCode(err, engine.RetCIllegalState) {
		t.Fatalf("foreign Run returned %v, want IllegalState", err)
	}
}

func TestPostAfterClose(t *testing.T) {
	d := New(registry.GID())
	d.Close()

	if d.Post(func() {}) {
		t.Fatal("Post accepted work after Close")
	}
	if n, _ := d.Drain(); n != 0 {
		t.Fatalf("Drain after Close ran %d units", n)
	}
}

func TestPending(t *testing.T) {
	d := New(registry.GID())
	defer d.Close()

	if d.Pending() != 0 {
		t.Fatal("fresh dispatcher reports pending work")
	}
	d.Post(func() {})
	d.Post(func() {})
	if got := d.Pending(); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}
	d.Drain()
	if d.Pending() != 0 {
		t.Fatal("Pending nonzero after Drain")
	}
}
