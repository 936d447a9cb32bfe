package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

type bigQueryRunner struct {
	client  *bigquery.Client
	project string
	dataset string
}

func newBigQueryRunner(ctx context.Context, project, dataset string) (*bigQueryRunner, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating BigQuery client: %w", err)
	}
	return &bigQueryRunner{client: client, project: project, dataset: dataset}, nil
}

func (r *bigQueryRunner) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", r.project, r.dataset)
}

func (r *bigQueryRunner) EnsureTable(ctx context.Context) error {
	return r.run(ctx, r.client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, r.table())))
}

func (r *bigQueryRunner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	query := r.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, r.table()))
	it, err := query.Read(ctx)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Apply runs the migration, then records it. BigQuery DDL is not transactional, so a failed
// record leaves an applied but unrecorded migration; migrations use IF NOT EXISTS for that.
func (r *bigQueryRunner) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := r.run(ctx, r.client.Query(m.SQL)); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}

	query := r.client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, r.table()))
	query.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := r.run(ctx, query); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

func (r *bigQueryRunner) run(ctx context.Context, query *bigquery.Query) error {
	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func (r *bigQueryRunner) Close() error {
	return r.client.Close()
}
