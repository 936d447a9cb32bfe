package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	seed := []*jobs.MatchImportJob{
		{JobID: "j1", ImportID: "imp-1", Status: jobs.JobStatusCompleted, CreatedAt: base},
		{JobID: "j2", ImportID: "imp-1", Status: jobs.JobStatusPending, CreatedAt: base.Add(time.Minute)},
		{JobID: "j3", ImportID: "imp-2", Status: jobs.JobStatusRetrying, CreatedAt: base.Add(2 * time.Minute)},
		{JobID: "j4", ImportID: "imp-2", Status: jobs.JobStatusFailed, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, j := range seed {
		require.NoError(t, s.SaveJob(ctx, j))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"j4", "j3", "j2", "j1"}},
		{"by import", jobs.JobFilter{ImportID: "imp-1"}, []string{"j2", "j1"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusFailed}, []string{"j4"}},
		{"active only", jobs.JobFilter{ActiveOnly: true}, []string{"j3", "j2"}},
		{"paged", jobs.JobFilter{Limit: 2, Offset: 1}, []string{"j3", "j2"}},
		{"offset past end", jobs.JobFilter{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_CopiesJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	job := &jobs.MatchImportJob{JobID: "j1", Status: jobs.JobStatusPending, Result: &jobs.MatchSummary{Suggested: 1}}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = jobs.JobStatusRunning
	job.Result.Suggested = 5

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Result.Suggested)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	assert.Error(t, s.SaveJob(ctx, &jobs.MatchImportJob{}))

	_, err := s.GetJob(ctx, "missing")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	err = s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, "x")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
