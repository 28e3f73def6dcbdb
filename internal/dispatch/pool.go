package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
)

// Task is one unit of work run by the pool.
type Task func()

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Dropped   int64 `json:"dropped"`
	Panicked  int64 `json:"panicked"`
	Queued    int   `json:"queued"`
	Workers   int   `json:"workers"`
}

// Pool is a fixed set of workers fed from a bounded queue.
type Pool struct {
	numWorkers int
	queue      chan Task

	// Stats
	submitted int64
	completed int64
	dropped   int64
	panicked  int64

	// Control
	wg      sync.WaitGroup
	running bool
	stopped bool
	mu      sync.RWMutex
}

// NewPool creates a pool. Non-positive sizes fall back to 8 workers and a
// 256-slot queue.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Pool{
		numWorkers: workers,
		queue:      make(chan Task, queueSize),
	}
}

// Start launches the workers. Calling Start twice, or after Stop, is a
// no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	logger.Info("dispatch pool starting", "workers", p.numWorkers, "queue", cap(p.queue))
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop rejects new work, lets the workers finish everything already queued
// and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	wasRunning := p.running
	p.running = false
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	if !wasRunning {
		// Nobody will drain the queue.
		for range p.queue {
			atomic.AddInt64(&p.dropped, 1)
		}
	}
	p.wg.Wait()

	s := p.Stats()
	logger.Info("dispatch pool stopped",
		"submitted", s.Submitted, "completed", s.Completed, "dropped", s.Dropped, "panicked", s.Panicked)
}

// Submit enqueues t without blocking. It returns false when the queue is
// full or the pool is stopped; the caller's work is then left for recovery.
func (p *Pool) Submit(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		atomic.AddInt64(&p.dropped, 1)
		return false
	}
	select {
	case p.queue <- t:
		atomic.AddInt64(&p.submitted, 1)
		return true
	default:
		atomic.AddInt64(&p.dropped, 1)
		return false
	}
}

// Stats returns current statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Dropped:   atomic.LoadInt64(&p.dropped),
		Panicked:  atomic.LoadInt64(&p.panicked),
		Queued:    len(p.queue),
		Workers:   p.numWorkers,
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.panicked, 1)
			logger.Error("dispatch task panicked", "panic", r)
		}
		atomic.AddInt64(&p.completed, 1)
	}()
	t()
}
