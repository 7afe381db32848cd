// Package worker provides an asynchronous worker pool for deferred work such
// as delayed cache invalidations.
//
// The pool decouples slow or best-effort work from the request path so that
// callers never wait on it.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/twin/pkg/logger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute.
type Job struct {
	// Name describes the job in logs, e.g. "invalidate".
	Name string

	// Key identifies what the job acts on, e.g. a cache key.
	Key string

	// Run does the work. Its error is logged, never retried.
	Run func(ctx context.Context) error
}

// Config is the configuration options for the worker pool.
type Config struct {
	// NumWorkers is the number of background workers in the pool (defaults to 3).
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds each job's context. Zero means no bound.
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Pool runs jobs asynchronously on a fixed set of goroutines.
type Pool struct {
	config Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: logger.OrNop(c.Logger).With("component", "worker"),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the job being dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job not queued, pool closed, job dropped",
			"job", job.Name,
			"key", job.Key,
		)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued", "job", job.Name, "key", job.Key)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"job", job.Name,
			"key", job.Key,
		)
		return false
	}
}

// Close stops accepting jobs and waits for queued and in-flight jobs to
// drain. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) processJob(job Job) {
	ctx := context.Background()
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "job", job.Name, "key", job.Key, "panic", r)
		}
	}()

	if err := job.Run(ctx); err != nil {
		p.logger.Warn("job failed",
			"job", job.Name,
			"key", job.Key,
			"error", err,
		)
		return
	}

	p.logger.Debug("job done", "job", job.Name, "key", job.Key)
}
