package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/rs/zerolog"
)

// Matcher runs the matching engine.
type Matcher interface {
	RunMatching(ctx context.Context, importID string) (reconcile.MatchResult, error)
}

// NewMatchHandler returns the JobHandler that runs matching for a job's import.
// Business rule failures (completed or unknown import) are permanent; aborted runs are retried.
func NewMatchHandler(m Matcher, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job *MatchImportJob) error {
		log.Info().
			Str("job_id", job.JobID).
			Str("import_id", job.ImportID).
			Str("trigger", string(job.Trigger)).
			Int("attempt", job.RetryCount+1).
			Msg("Running matching job")

		res, err := m.RunMatching(ctx, job.ImportID)
		if err != nil {
			var aborted *reconcile.MatchAbortedError
			if !errors.As(err, &aborted) && domain.KindOf(err) != "" {
				return Permanent(err)
			}
			return fmt.Errorf("match import %s: %w", job.ImportID, err)
		}

		job.Result = &MatchSummary{
			Suggested: len(res.Suggestions),
			Unmatched: res.Unmatched,
			Skipped:   len(res.Skipped),
		}
		return nil
	}
}
