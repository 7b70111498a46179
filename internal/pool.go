package internal

// WorkerPool bounds the amount of concurrent work. Broadcast fan-out for
// out-of-band updates goes through a pool so a burst of updates cannot spawn
// an unbounded number of goroutines all contending for the same connections.
type WorkerPool struct {
	N  int
	ch chan func()
}

// NewWorkerPool creates a worker pool of size n. Up to n work can be done
// concurrently. The channel buffer is also n so that producers feel
// backpressure once there is a pool's worth of queued work, instead of
// queueing without bound.
func NewWorkerPool(n int) *WorkerPool {
	return &WorkerPool{
		N:  n,
		ch: make(chan func(), n),
	}
}

// Start the workers. Only call this once.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.N; i++ {
		go wp.worker()
	}
}

// Stop the worker pool. Only really useful for tests as a worker pool should be started once
// and persist for the lifetime of the process, else it causes needless goroutine churn.
// Only call this once.
func (wp *WorkerPool) Stop() {
	close(wp.ch)
}

// Queue some work on the pool. May or may not block until some work is processed.
func (wp *WorkerPool) Queue(fn func()) {
	wp.ch <- fn
}

func (wp *WorkerPool) worker() {
	for fn := range wp.ch {
		fn()
	}
}
