// Package concurrency is a collection of small concurrency primitives used by the
// fan-out engine and the embedded storage adapter.
package concurrency

import "sync"

// Task represents a work task to be run on the specified thread pool.
type Task func()

// GoRoutinePool is a bounded set of goroutines executing tasks. Workers are started
// lazily and reused while there is work for them. Tasks must not schedule onto the
// pool which runs them.
type GoRoutinePool struct {
	// Work queue.
	work chan Task
	// Counter to control the number of already allocated/running goroutines.
	sem chan struct{}
	// Closed by Stop.
	stop chan struct{}

	// Held for reading while a task is being handed to the workers.
	mu      sync.RWMutex
	stopped bool
}

// NewGoRoutinePool allocates a new thread pool with `numWorkers` goroutines and
// a work queue of `queueLen` tasks.
func NewGoRoutinePool(numWorkers, queueLen int) *GoRoutinePool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueLen < 0 {
		queueLen = 0
	}
	return &GoRoutinePool{
		work: make(chan Task, queueLen),
		sem:  make(chan struct{}, numWorkers),
		stop: make(chan struct{}),
	}
}

// Schedule enqueues a closure to run on the GoRoutinePool's goroutines.
// Blocks when all workers are busy and the queue is full. Once the pool is
// stopped, the task runs on the caller's goroutine.
func (p *GoRoutinePool) Schedule(task Task) {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		task()
		return
	}
	select {
	case p.sem <- struct{}{}:
		go p.worker(task)
	default:
		p.work <- task
	}
	p.mu.RUnlock()
}

// Run executes all tasks on the pool and waits for them to finish.
func (p *GoRoutinePool) Run(tasks ...Task) {
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		p.Schedule(func() {
			defer wg.Done()
			task()
		})
	}
	wg.Wait()
}

// Stop tells the workers to exit once the queued tasks are done.
func (p *GoRoutinePool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stopped {
		p.stopped = true
		close(p.stop)
	}
}

// Thread pool worker goroutine.
func (p *GoRoutinePool) worker(task Task) {
	defer func() { <-p.sem }()
	for {
		task()
		select {
		case task = <-p.work:
		case <-p.stop:
			// Nothing is enqueued after stop is closed.
			for {
				select {
				case task = <-p.work:
					task()
				default:
					return
				}
			}
		}
	}
}
