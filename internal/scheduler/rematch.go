package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/rs/zerolog"
)

// ImportLister lists statement imports.
type ImportLister interface {
	ListImports(ctx context.Context, filter domain.ImportFilter) ([]domain.StatementImport, error)
}

// RematchJob enqueues a matching job for every in-progress import that still has pending
// movements and no matching job waiting or running.
type RematchJob struct {
	imports ImportLister
	queue   jobs.Publisher
	jobs    jobs.JobStore
	timeout time.Duration
	log     zerolog.Logger
}

func NewRematchJob(imports ImportLister, queue jobs.Publisher, store jobs.JobStore, log zerolog.Logger) *RematchJob {
	return &RematchJob{
		imports: imports,
		queue:   queue,
		jobs:    store,
		timeout: time.Minute,
		log:     log,
	}
}

func (j *RematchJob) Name() string { return "rematch_open_imports" }

func (j *RematchJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.Enqueue(ctx)
	return err
}

// Enqueue publishes the jobs and returns how many were enqueued.
func (j *RematchJob) Enqueue(ctx context.Context) (int, error) {
	open, err := j.imports.ListImports(ctx, domain.ImportFilter{Status: domain.ImportInProgress})
	if err != nil {
		return 0, fmt.Errorf("Enqueue: failed to list open imports: %w", err)
	}

	enqueued := 0
	for _, imp := range open {
		if imp.Counters.Pending == 0 {
			continue
		}
		active, err := j.jobs.ListJobs(ctx, jobs.JobFilter{ImportID: imp.ID, ActiveOnly: true, Limit: 1})
		if err != nil {
			return enqueued, fmt.Errorf("Enqueue: failed to list jobs of import %s: %w", imp.ID, err)
		}
		if len(active) > 0 {
			continue
		}

		job := &jobs.MatchImportJob{ImportID: imp.ID, Trigger: jobs.TriggerSchedule}
		if err := j.queue.PublishMatchImport(ctx, job); err != nil {
			return enqueued, fmt.Errorf("Enqueue: failed to publish job for import %s: %w", imp.ID, err)
		}
		enqueued++
		j.log.Info().
			Str("job_id", job.JobID).
			Str("import_id", imp.ID).
			Int("pending", imp.Counters.Pending).
			Msg("Re-matching job enqueued")
	}
	return enqueued, nil
}

var _ Job = (*RematchJob)(nil)
