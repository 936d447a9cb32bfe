// Package di builds the reconciliation service and its collaborators from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/reconciler/internal/config"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/events"
	"github.com/dvloznov/reconciler/internal/gcsuploader"
	infraBQ "github.com/dvloznov/reconciler/internal/infra/bigquery"
	"github.com/dvloznov/reconciler/internal/notionsync"
	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/dvloznov/reconciler/internal/statement"
	"github.com/dvloznov/reconciler/internal/store/memory"
	"github.com/dvloznov/reconciler/internal/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Container holds the wired collaborators. Close releases them in reverse order.
type Container struct {
	Config    *config.Config
	Log       zerolog.Logger
	Store     domain.Store
	Ledger    domain.Ledger
	Accounts  domain.AccountRegistry
	Publisher events.Publisher
	// Storage is nil unless GCS_BUCKET is set.
	Storage *gcsuploader.GCSStorageService
	Service *reconcile.Service

	closers []func() error
}

// Build wires every driver selected by cfg. On error, whatever was opened is closed.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *Container, err error) {
	c := &Container{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.StoreDriver == config.DriverPostgres || cfg.LedgerDriver == config.DriverPostgres {
		if pool, err = postgres.Connect(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		c.onClose(func() error { pool.Close(); return nil })
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		c.Store = postgres.NewStore(pool)
	default:
		c.Store = memory.NewStore()
	}

	switch cfg.LedgerDriver {
	case config.DriverPostgres:
		c.Ledger = postgres.NewLedger(pool)
		c.Accounts = postgres.NewRegistry(pool)
	case config.DriverBigQuery:
		wh, err := infraBQ.NewWarehouse(ctx, cfg.BQProjectID, cfg.BQDataset)
		if err != nil {
			return nil, err
		}
		c.onClose(wh.Close)
		c.Ledger = infraBQ.NewLedger(wh)
		c.Accounts = infraBQ.NewRegistry(wh)
	default:
		c.Ledger = memory.NewLedger()
		accounts, err := ParseBankAccounts(cfg.BankAccounts)
		if err != nil {
			return nil, err
		}
		c.Accounts = memory.NewRegistry(accounts...)
	}

	if c.Publisher, err = c.buildPublisher(ctx); err != nil {
		return nil, err
	}
	c.onClose(c.Publisher.Close)

	parsers := statement.DefaultRegistry()
	if cfg.PDFParsingEnabled {
		pdf, err := statement.NewGeminiPDFParser(ctx, cfg.GenAIModel)
		if err != nil {
			return nil, err
		}
		parsers.Register(pdf)
	}

	opts := []reconcile.Option{
		reconcile.WithParsers(parsers),
		reconcile.WithPublisher(c.Publisher),
		reconcile.WithMatchConfig(cfg.Match),
		reconcile.WithLogger(log),
	}
	if cfg.GCSBucket != "" {
		if c.Storage, err = gcsuploader.NewGCSStorageService(ctx, cfg.GCSBucket); err != nil {
			return nil, err
		}
		c.onClose(c.Storage.Close)
		opts = append(opts, reconcile.WithArchiver(c.Storage))
	}
	c.Service = reconcile.NewService(c.Store, c.Ledger, c.Accounts, opts...)

	log.Info().
		Str("store", cfg.StoreDriver).
		Str("ledger", cfg.LedgerDriver).
		Str("events", cfg.EventsDriver).
		Bool("notion_reports", cfg.NotionEnabled()).
		Bool("raw_file_archive", c.Storage != nil).
		Bool("pdf_parsing", cfg.PDFParsingEnabled).
		Msg("Reconciliation service wired")
	return c, nil
}

func (c *Container) buildPublisher(ctx context.Context) (events.Publisher, error) {
	cfg := c.Config
	var publishers events.Multi

	switch cfg.EventsDriver {
	case config.DriverRedis:
		p, err := events.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	case config.DriverKafka:
		publishers = append(publishers, events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic))
	}

	if cfg.NotionEnabled() {
		reporter := notionsync.NewReporter(notionsync.NewReportDatabase(cfg.NotionToken, cfg.NotionDBID), c.Store, c.Log)
		publishers = append(publishers, reporter)
	}

	switch len(publishers) {
	case 0:
		return events.Nop{}, nil
	case 1:
		return publishers[0], nil
	}
	return publishers, nil
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases every opened resource.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// ParseBankAccounts reads "id[:label]" entries.
func ParseBankAccounts(entries []string) ([]domain.BankAccount, error) {
	accounts := make([]domain.BankAccount, 0, len(entries))
	for _, e := range entries {
		id, label, _ := strings.Cut(strings.TrimSpace(e), ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid bank account entry %q", e)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			label = id
		}
		accounts = append(accounts, domain.BankAccount{ID: id, Label: label})
	}
	return accounts, nil
}
