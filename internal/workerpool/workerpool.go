package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andrej220/probemanager/internal/lg"
)

const TotalMaxWorkers = 10

var (
	ErrStopped   = errors.New("worker pool is stopped")
	ErrQueueFull = errors.New("worker pool queue is full")
)

type JobFunc[T any] func(context.Context, T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

// Pool runs submitted jobs on at most maxWorkers goroutines.
type Pool[T any] struct {
	jobs          chan Job[T]
	activeWorkers int32
	wg            sync.WaitGroup
	quit          chan struct{}
	mu            sync.RWMutex
	stopped       bool
	maxWorkers    int
	logger        lg.Logger
}

func NewPool[T any](maxWorkers int, logger lg.Logger) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	if logger == nil {
		logger = lg.Discard
	}
	p := &Pool[T]{
		jobs:       make(chan Job[T], maxWorkers),
		quit:       make(chan struct{}),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
	p.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}
	return p
}

// Stop rejects new jobs and waits for running and queued jobs to finish.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.quit)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit queues job. It blocks while the queue is full and fails once the
// pool is stopped or either ctx or the job context is done. ctx bounds the
// wait only; job.Ctx is passed to the job.
func (p *Pool[T]) Submit(ctx context.Context, job Job[T]) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		p.logger.Debug("job submitted", lg.Any("job", job.Payload))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit job: %w", ctx.Err())
	case <-job.Ctx.Done():
		return fmt.Errorf("submit job: %w", job.Ctx.Err())
	}
}

// TrySubmit queues job without waiting. It returns ErrQueueFull when every
// worker is busy and the queue is full.
func (p *Pool[T]) TrySubmit(job Job[T]) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		p.logger.Debug("job submitted", lg.Any("job", job.Payload))
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.run(job)
		case <-p.quit:
			for {
				select {
				case job := <-p.jobs:
					p.run(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool[T]) run(job Job[T]) {
	n := atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()
	logger := p.logger.With(lg.Any("job", job.Payload))
	logger.Debug("worker started", lg.Int32("workers", n))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", lg.Any("panic", r))
		}
	}()
	if err := job.Fn(job.Ctx, job.Payload); err != nil {
		logger.Warn("job failed", lg.Err(err))
		return
	}
	logger.Debug("worker finished", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
