package worker

import (
	"context"
	"sync"
)

// Job is a unit of work executed by a pool worker. It receives the pool
// context and must return when that context is done.
type Job[R any] func(ctx context.Context) R

// Pool runs jobs on a fixed number of workers and collects their results
type Pool[R any] struct {
	workers    int
	jobQueue   chan Job[R]
	results    chan R
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// NewPool creates a pool bound to parent; cancelling parent stops the workers
func NewPool[R any](parent context.Context, workers int) *Pool[R] {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool[R]{
		workers:    workers,
		jobQueue:   make(chan Job[R], workers*2),
		results:    make(chan R, workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start starts the workers
func (p *Pool[R]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[R]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := job(p.ctx)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job. It reports false when the pool has been shut down.
// Callers submitting more jobs than the queue holds must drain results
// concurrently, as Run does.
func (p *Pool[R]) Submit(job Job[R]) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- job:
		return true
	}
}

// Wait closes the queue and returns the results of every completed job
func (p *Pool[R]) Wait() []R {
	close(p.jobQueue)

	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	var results []R
	for result := range p.results {
		results = append(results, result)
	}
	return results
}

// Shutdown stops the workers without waiting for queued jobs
func (p *Pool[R]) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool[R]) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}

// Run executes jobs on a fresh pool of the given size and returns their
// results in completion order
func Run[R any](ctx context.Context, workers int, jobs []Job[R]) []R {
	pool := NewPool[R](ctx, workers)
	pool.Start()

	collected := make(chan []R, 1)
	go func() {
		var results []R
		for r := range pool.results {
			results = append(results, r)
		}
		collected <- results
	}()

	for _, job := range jobs {
		if !pool.Submit(job) {
			break
		}
	}
	close(pool.jobQueue)
	pool.wg.Wait()
	pool.closeResults()
	pool.cancelFunc()

	return <-collected
}
