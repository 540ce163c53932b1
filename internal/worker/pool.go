// Package worker runs admitted Slack events off the request goroutine so the
// inbound handler can acknowledge Slack within its three second window.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

// Job is one unit of work. The context is the pool's, cancelled on Stop.
type Job func(ctx context.Context)

// Pool is a fixed set of goroutines fed from a bounded queue.
type Pool struct {
	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool

	// OnDepth, when set, is called with the queue depth after every change.
	OnDepth func(depth int)
}

// New starts workers goroutines reading from a queue of queueSize jobs.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{jobs: make(chan Job, queueSize), ctx: ctx, cancel: cancel}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	return p
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.reportDepth()
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("worker", id).Interface("panic", r).Msg("job panicked")
		}
	}()
	job(p.ctx)
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		p.reportDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth is the number of queued, not yet started jobs.
func (p *Pool) Depth() int { return len(p.jobs) }

// Stop refuses new jobs, lets queued ones finish and waits for the workers
// or until ctx is done. On ctx expiry running jobs see their context cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) reportDepth() {
	if p.OnDepth != nil {
		p.OnDepth(p.Depth())
	}
}
