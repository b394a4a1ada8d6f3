package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRoutinePoolRun(t *testing.T) {
	pool := NewGoRoutinePool(4, 8)
	defer pool.Stop()

	var count int64
	tasks := make([]Task, 100)
	for i := range tasks {
		tasks[i] = func() { atomic.AddInt64(&count, 1) }
	}
	pool.Run(tasks...)

	if count != 100 {
		t.Errorf("expected 100 tasks to run, got %d", count)
	}
}

func TestGoRoutinePoolBounded(t *testing.T) {
	const workers = 3
	pool := NewGoRoutinePool(workers, 0)
	defer pool.Stop()

	var running, peak int64
	tasks := make([]Task, 30)
	for i := range tasks {
		tasks[i] = func() {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			atomic.AddInt64(&running, -1)
		}
	}
	pool.Run(tasks...)

	if peak > workers {
		t.Errorf("at most %d tasks may run at once, saw %d", workers, peak)
	}
}

func TestGoRoutinePoolStopRunsQueued(t *testing.T) {
	pool := NewGoRoutinePool(1, 4)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	var count int64
	go func() {
		pool.Run(
			func() { close(started); <-release },
			func() { atomic.AddInt64(&count, 1) },
			func() { atomic.AddInt64(&count, 1) },
		)
		close(done)
	}()

	<-started
	pool.Stop()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if count != 2 {
		t.Errorf("expected 2 queued tasks to run, got %d", count)
	}

	// Tasks scheduled after Stop run on the caller.
	var ran bool
	pool.Run(func() { ran = true })
	if !ran {
		t.Error("task scheduled after Stop did not run")
	}
	pool.Stop()
}

func TestSimpleMutexTryLock(t *testing.T) {
	mu := NewSimpleMutex()
	if !mu.TryLock() {
		t.Fatal("unlocked mutex must be acquired")
	}
	if mu.TryLock() {
		t.Fatal("locked mutex must not be acquired twice")
	}
	mu.Unlock()
	if !mu.TryLock() {
		t.Fatal("released mutex must be acquired")
	}
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()

	var wg sync.WaitGroup
	counters := map[string]*int{"a": new(int), "b": new(int)}
	for i := 0; i < 50; i++ {
		for key, counter := range counters {
			wg.Add(1)
			go func(key string, counter *int) {
				defer wg.Done()
				unlock := km.Lock(key)
				*counter++
				unlock()
			}(key, counter)
		}
	}
	wg.Wait()

	for key, counter := range counters {
		if *counter != 50 {
			t.Errorf("key %s: expected 50 increments, got %d", key, *counter)
		}
	}
	if km.Len() != 0 {
		t.Errorf("all keys must be released, %d remain", km.Len())
	}
}
