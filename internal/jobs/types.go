// Package jobs defines background matching jobs and the queue abstractions that run them.
package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeMatchImport runs the matching engine over one import.
	JobTypeMatchImport JobType = "match_import"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Trigger records who asked for a job.
type Trigger string

const (
	TriggerAPI      Trigger = "api"
	TriggerSchedule Trigger = "schedule"
)

// DefaultMaxRetries applies when a published job does not set MaxRetries.
const DefaultMaxRetries = 3

// MatchSummary is the outcome of a finished matching job.
type MatchSummary struct {
	Suggested int `json:"suggested"`
	Unmatched int `json:"unmatched"`
	Skipped   int `json:"skipped"`
}

// MatchImportJob represents a request to run matching over one statement import.
type MatchImportJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type JobType `json:"type"`

	// ImportID is the statement import to match.
	ImportID string `json:"import_id"`

	Trigger Trigger   `json:"trigger"`
	Status  JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the last attempt failed.
	Error string `json:"error,omitempty"`

	// Result is set once the job completed.
	Result *MatchSummary `json:"result,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Active reports whether the job is still waiting or being processed.
func (j *MatchImportJob) Active() bool {
	switch j.Status {
	case JobStatusPending, JobStatusRunning, JobStatusRetrying:
		return true
	}
	return false
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishMatchImport enqueues a matching job.
	PublishMatchImport(ctx context.Context, job *MatchImportJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the attempt failed; it is retried
// unless it is permanent (see Permanent).
type JobHandler func(ctx context.Context, job *MatchImportJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *MatchImportJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*MatchImportJob, error)

	// ListJobs retrieves jobs newest first with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*MatchImportJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	ImportID string
	Status   JobStatus
	// ActiveOnly keeps pending, running and retrying jobs.
	ActiveOnly bool

	Limit  int
	Offset int
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the queue fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
