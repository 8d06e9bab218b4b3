// Package jobs runs sync and prediction work in the background. Jobs are
// keyed; at most one job per key runs or waits at a time, so a tenant can
// never have two syncs stacked up behind each other.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"churn-service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrJobAlreadyRunning is returned when a job with the same key is
	// already queued or running.
	ErrJobAlreadyRunning = errors.New("job already running")

	// ErrQueueFull is returned when the job queue has no room.
	ErrQueueFull = errors.New("job queue full")

	// ErrPoolStopped is returned when submitting to a stopped pool.
	ErrPoolStopped = errors.New("job pool stopped")
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is one unit of background work.
type Job struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	fn func(ctx context.Context) error
}

// Pool is a fixed-size worker pool over a bounded queue.
type Pool struct {
	size  int
	queue chan *Job

	mu      sync.Mutex
	byKey   map[string]*Job
	byID    map[string]*Job
	history []string
	retain  int
	stopped bool

	wg sync.WaitGroup
}

// defaultRetain caps how many finished jobs stay queryable by ID.
const defaultRetain = 128

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(size, queueSize int) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		size:   size,
		queue:  make(chan *Job, queueSize),
		byKey:  make(map[string]*Job),
		byID:   make(map[string]*Job),
		retain: defaultRetain,
	}
}

// Run starts the workers. They drain the queue until Shutdown is called and
// the queue is empty.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Shutdown stops accepting jobs and waits for in-flight work to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
}

// Submit enqueues a job under a key. A key with a job already queued or
// running is rejected, not queued behind it.
func (p *Pool) Submit(key string, fn func(ctx context.Context) error) (*Job, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	if _, ok := p.byKey[key]; ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobAlreadyRunning, key)
	}

	job := &Job{
		ID:         uuid.NewString(),
		Key:        key,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().UTC(),
		fn:         fn,
	}
	p.byKey[key] = job
	p.byID[job.ID] = job
	p.mu.Unlock()

	select {
	case p.queue <- job:
		return job, nil
	default:
		p.mu.Lock()
		delete(p.byKey, key)
		delete(p.byID, job.ID)
		p.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// Get returns a job by ID, or nil if unknown or already evicted from the
// finished-job history.
func (p *Pool) Get(jobID string) *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, ok := p.byID[jobID]; ok {
		copied := *job
		return &copied
	}
	return nil
}

// Running reports whether a job with this key is queued or running.
func (p *Pool) Running(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byKey[key]
	return ok
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	log := logger.GetLogger().With(zap.Int("worker", n))

	for job := range p.queue {
		started := time.Now().UTC()
		p.mu.Lock()
		job.Status = StatusRunning
		job.StartedAt = &started
		p.mu.Unlock()

		log.Debug("Job started", zap.String("job_id", job.ID), zap.String("key", job.Key))
		err := job.fn(ctx)
		finished := time.Now().UTC()

		p.mu.Lock()
		job.FinishedAt = &finished
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
		} else {
			job.Status = StatusCompleted
		}
		delete(p.byKey, job.Key)
		p.history = append(p.history, job.ID)
		for len(p.history) > p.retain {
			delete(p.byID, p.history[0])
			p.history = p.history[1:]
		}
		p.mu.Unlock()

		if err != nil {
			log.Warn("Job failed",
				zap.String("job_id", job.ID),
				zap.String("key", job.Key),
				zap.Duration("took", finished.Sub(started)),
				zap.Error(err))
			continue
		}
		log.Info("Job completed",
			zap.String("job_id", job.ID),
			zap.String("key", job.Key),
			zap.Duration("took", finished.Sub(started)))
	}
}
