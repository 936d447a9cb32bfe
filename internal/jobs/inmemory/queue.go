package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultWorkerCount = 5
	DefaultBackoff     = time.Second
)

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Jobs do not survive a restart; the re-matching schedule re-enqueues open imports.
type Queue struct {
	jobChan   chan *jobs.MatchImportJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers int
	backoff time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the number of concurrent workers started by Start.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoff sets the base retry delay; attempt n waits n times the base.
func WithBackoff(d time.Duration) QueueOption { return func(q *Queue) { q.backoff = d } }

func WithLogger(l zerolog.Logger) QueueOption { return func(q *Queue) { q.log = l } }

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishMatchImport blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...QueueOption) *Queue {
	q := &Queue{
		jobChan:   make(chan *jobs.MatchImportJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   DefaultWorkerCount,
		backoff:   DefaultBackoff,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishMatchImport implements the Publisher interface.
func (q *Queue) PublishMatchImport(ctx context.Context, job *jobs.MatchImportJob) error {
	if q.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	job.Type = jobs.JobTypeMatchImport
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = jobs.DefaultMaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		q.markUnqueued(job, ctx.Err())
		return ctx.Err()
	case <-q.closeChan:
		q.markUnqueued(job, fmt.Errorf("queue is closed"))
		return fmt.Errorf("queue is closed")
	}
}

// markUnqueued fails a saved job that never reached a worker.
func (q *Queue) markUnqueued(job *jobs.MatchImportJob, cause error) {
	if q.store == nil {
		return
	}
	if err := q.store.UpdateJobStatus(context.Background(), job.JobID, jobs.JobStatusFailed, cause.Error()); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to mark unqueued job")
	}
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Start implements the Consumer interface.
// The handler is called concurrently for each job, up to the configured worker count.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	if q.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.log.Info().Int("workers", q.workers).Msg("Job queue started")
	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.MatchImportJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := q.now().UTC()
	job.StartedAt = &now
	q.save(ctx, job)

	err := q.run(ctx, job, handler)

	completedAt := q.now().UTC()
	job.CompletedAt = &completedAt

	if err == nil {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		q.save(ctx, job)
		q.log.Info().
			Str("job_id", job.JobID).
			Str("import_id", job.ImportID).
			Dur("duration", completedAt.Sub(now)).
			Msg("Job completed")
		return
	}

	job.Error = err.Error()
	if jobs.IsPermanent(err) || job.RetryCount >= job.MaxRetries {
		job.Status = jobs.JobStatusFailed
		q.save(ctx, job)
		q.log.Error().Err(err).
			Str("job_id", job.JobID).
			Str("import_id", job.ImportID).
			Int("retry_count", job.RetryCount).
			Msg("Job failed")
		return
	}

	job.RetryCount++
	job.Status = jobs.JobStatusRetrying
	q.save(ctx, job)
	q.log.Warn().Err(err).
		Str("job_id", job.JobID).
		Int("retry_count", job.RetryCount).
		Msg("Job failed, retrying")

	// Linear backoff.
	backoff := time.Duration(job.RetryCount) * q.backoff
	retry := *job
	time.AfterFunc(backoff, func() {
		retry.Status = jobs.JobStatusPending
		retry.StartedAt = nil
		retry.CompletedAt = nil
		if err := q.PublishMatchImport(ctx, &retry); err != nil {
			q.log.Warn().Err(err).Str("job_id", retry.JobID).Msg("Failed to re-enqueue job")
		}
	})
}

// run calls handler and turns a panic into a permanent failure.
func (q *Queue) run(ctx context.Context, job *jobs.MatchImportJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jobs.Permanent(fmt.Errorf("job panicked: %v", r))
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.MatchImportJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
