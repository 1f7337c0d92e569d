// Package asyncqueue runs the driver's background I/O worker pool
// (SPEC_FULL.md §5 NEW): submitted jobs run off the tick thread and their
// results are marshalled back via a bounded result channel drained at a
// tick boundary, never mid-phase. Blueprint compiles and persistence
// save/restore elsewhere in the driver run synchronously and are not
// submitted here.
//
// Adapted from the teacher's async invocation worker pool: the same
// fixed-size worker/poller split and stopCh/WaitGroup shutdown shape,
// collapsed from "lease rows out of a durable queue table" down to
// "run submitted closures on a bounded in-memory channel", since the
// driver's background work has no durability requirement — a pending
// compile lost on crash is simply retried the next time the blueprint
// is needed.
package asyncqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/oriys/mudkernel/internal/logging"
)

// Job is a unit of background work. Result is delivered to Results once
// Run returns; Label identifies the job for logging.
type Job struct {
	Label string
	Run   func() (any, error)
}

// Result is a completed Job's outcome, read back on the tick thread.
type Result struct {
	Label string
	Value any
	Err   error
}

// Config configures the worker pool.
type Config struct {
	Workers    int
	QueueDepth int
}

const (
	defaultWorkers    = 4
	defaultQueueDepth = 64
)

// Pool runs submitted Jobs on a fixed set of worker goroutines and
// collects their Results on a channel the tick driver drains between
// ticks.
type Pool struct {
	cfg     Config
	jobCh   chan Job
	Results chan Result

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a worker pool. Start must be called before Submit.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	return &Pool{
		cfg:     cfg,
		jobCh:   make(chan Job, cfg.QueueDepth),
		Results: make(chan Result, cfg.QueueDepth),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logging.Op().Info("background io pool started", "workers", p.cfg.Workers)
}

// Stop signals workers to exit and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Op().Info("background io pool stopped")
}

// Submit enqueues job for background execution. Submit blocks if the
// queue is full, applying backpressure to the caller rather than
// dropping work.
func (p *Pool) Submit(job Job) {
	select {
	case p.jobCh <- job:
	case <-p.stopCh:
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	workerID := fmt.Sprintf("io-worker-%d", id)

	for {
		select {
		case <-p.stopCh:
			return
		case job := <-p.jobCh:
			start := time.Now()
			value, err := job.Run()
			if err != nil {
				logging.Op().Warn("background job failed", "worker", workerID, "label", job.Label, "error", err, "duration", time.Since(start))
			} else {
				logging.Op().Debug("background job completed", "worker", workerID, "label", job.Label, "duration", time.Since(start))
			}

			select {
			case p.Results <- Result{Label: job.Label, Value: value, Err: err}:
			case <-p.stopCh:
				return
			}
		}
	}
}

// DrainResults returns every Result currently buffered, without
// blocking. Called once per tick, before phase 1, per SPEC_FULL.md §5.
func (p *Pool) DrainResults() []Result {
	var out []Result
	for {
		select {
		case r := <-p.Results:
			out = append(out, r)
		default:
			return out
		}
	}
}
