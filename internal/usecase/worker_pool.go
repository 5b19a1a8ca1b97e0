package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one task queued for a worker.
type Job struct {
	TaskID      string
	Filename    string
	UploadPath  string
	SubmittedAt time.Time
}

// WorkerPoolConfig sizes the pool.
type WorkerPoolConfig struct {
	// WorkerCount is the number of concurrent workers. Defaults to 1.
	WorkerCount int
	// QueueSize is how many jobs may wait for a worker. Defaults to WorkerCount.
	QueueSize int
}

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded
// queue. Submissions beyond capacity are rejected rather than spawned.
type WorkerPool struct {
	jobs        chan Job
	workerCount int
	handler     func(workerID int, job Job)
	logger      *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a pool; call Start to launch the workers.
func NewWorkerPool(cfg WorkerPoolConfig, handler func(workerID int, job Job), logger *zap.Logger) *WorkerPool {
	if cfg.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			zap.Int("specified_count", cfg.WorkerCount), zap.Int("default_count", 1))
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.WorkerCount
	}
	return &WorkerPool{
		jobs:        make(chan Job, cfg.QueueSize),
		workerCount: cfg.WorkerCount,
		handler:     handler,
		logger:      logger.Named("worker_pool"),
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.workerCount), zap.Int("queue_capacity", cap(p.jobs)))
}

// Submit queues job without blocking.
func (p *WorkerPool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		p.logger.Debug("job enqueued",
			zap.String("task_id", job.TaskID),
			zap.Int("queue_len", len(p.jobs)),
			zap.Int("queue_cap", cap(p.jobs)))
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(p.jobs))
	}
}

// Stop rejects new jobs and waits until queued and running jobs finish or
// ctx is done.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
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
		p.logger.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *WorkerPool) QueueLen() int {
	return len(p.jobs)
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("starting worker", zap.Int("worker_id", id))

	for job := range p.jobs {
		p.handler(id, job)
	}
	p.logger.Debug("task channel closed, stopping worker", zap.Int("worker_id", id))
}
