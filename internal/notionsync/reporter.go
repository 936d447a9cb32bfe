// Package notionsync writes reconciliation reports for finalized statement imports to a
// Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/reconciler/internal/events"
	"github.com/rs/zerolog"
)

// Reporter is an events.Publisher that keeps one Notion page per finalized import.
// Re-publishing an import updates its existing page.
type Reporter struct {
	pages   ReportPages
	imports ImportSource
	log     zerolog.Logger
}

func NewReporter(pages ReportPages, imports ImportSource, log zerolog.Logger) *Reporter {
	return &Reporter{
		pages:   pages,
		imports: imports,
		log:     log,
	}
}

// Publish reports import.finalized events and ignores the rest.
func (r *Reporter) Publish(ctx context.Context, ev events.Event) error {
	if ev.Type != events.ImportFinalized {
		return nil
	}
	return r.ReportImport(ctx, ev.ImportID)
}

func (r *Reporter) Close() error { return nil }

// ReportImport creates or updates the report page of an import.
func (r *Reporter) ReportImport(ctx context.Context, importID string) error {
	imp, err := r.imports.GetImport(ctx, importID)
	if err != nil {
		return fmt.Errorf("ReportImport: failed to load import %s: %w", importID, err)
	}
	props := ImportToNotionProperties(imp)

	pageID, err := r.pages.Find(ctx, importID)
	if err != nil {
		return fmt.Errorf("ReportImport: %w", err)
	}

	if pageID != "" {
		if err := r.pages.Update(ctx, pageID, props); err != nil {
			return fmt.Errorf("ReportImport: %w", err)
		}
		r.log.Info().
			Str("import_id", importID).
			Str("page_id", pageID).
			Msg("Updated Notion import report")
		return nil
	}

	pageID, err = r.pages.Create(ctx, props)
	if err != nil {
		return fmt.Errorf("ReportImport: %w", err)
	}
	r.log.Info().
		Str("import_id", importID).
		Str("page_id", pageID).
		Int("total", imp.Counters.Total).
		Int("reconciled", imp.Counters.Reconciled).
		Msg("Created Notion import report")
	return nil
}

var _ events.Publisher = (*Reporter)(nil)
