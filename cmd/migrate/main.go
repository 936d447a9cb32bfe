package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/reconciler/internal/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// runner applies migrations to one backend and records them in schema_migrations.
type runner interface {
	EnsureTable(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

var (
	driver        = flag.String("driver", "postgres", "Target backend: postgres or bigquery")
	databaseURL   = flag.String("database-url", "", "Postgres connection URL (defaults to DATABASE_URL)")
	projectID     = flag.String("project", "", "GCP project ID (defaults to BQ_PROJECT_ID)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (defaults to BQ_DATASET, then finance)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (defaults to migrations/<driver>)")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	log := logger.New()
	ctx := context.Background()

	r, placeholders, err := openRunner(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("driver", *driver).Msg("Failed to connect")
	}
	defer r.Close()

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + *driver
	}

	if err := migrate(ctx, r, dir, placeholders, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func openRunner(ctx context.Context) (runner, map[string]string, error) {
	switch *driver {
	case "postgres":
		url := firstNonEmpty(*databaseURL, os.Getenv("DATABASE_URL"))
		if url == "" {
			return nil, nil, fmt.Errorf("-database-url or DATABASE_URL is required")
		}
		r, err := newPostgresRunner(ctx, url)
		return r, nil, err
	case "bigquery":
		project := firstNonEmpty(*projectID, os.Getenv("BQ_PROJECT_ID"))
		if project == "" {
			return nil, nil, fmt.Errorf("-project or BQ_PROJECT_ID is required")
		}
		dataset := firstNonEmpty(*datasetID, os.Getenv("BQ_DATASET"), "finance")
		r, err := newBigQueryRunner(ctx, project, dataset)
		return r, map[string]string{"{{PROJECT_ID}}": project, "{{DATASET_ID}}": dataset}, err
	}
	return nil, nil, fmt.Errorf("unknown driver %q, want postgres or bigquery", *driver)
}

// migrate applies every migration in dir that r has not recorded yet, in version order.
func migrate(ctx context.Context, r runner, dir string, placeholders map[string]string, log zerolog.Logger) error {
	if err := r.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(resolveDir(dir), placeholders, log)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	applied, err := r.Applied(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending, drifted := plan(migrations, applied)
	for _, m := range drifted {
		log.Warn().Int("version", m.Version).Str("name", m.Name).
			Msg("Applied migration file changed since it ran")
	}

	for _, m := range pending {
		log.Info().Str("migration", m.Filename).Msg("Applying migration")
		if err := r.Apply(ctx, m, *appliedBy); err != nil {
			return fmt.Errorf("apply %s: %w", m.Filename, err)
		}
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("count", len(pending)).Msg("Successfully applied migrations")
	}
	return nil
}

// plan splits migrations into those not yet applied and applied ones whose checksum changed.
func plan(migrations []Migration, applied []AppliedMigration) (pending, drifted []Migration) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}
	for _, m := range migrations {
		am, ok := byVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			drifted = append(drifted, m)
		}
	}
	return pending, drifted
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
