package notionsync

import (
	"context"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/jomei/notionapi"
)

// ReportPages stores report pages keyed by import ID.
type ReportPages interface {
	// Find returns the page ID of the import's report, or "" if there is none.
	Find(ctx context.Context, importID string) (string, error)
	Create(ctx context.Context, props notionapi.Properties) (string, error)
	Update(ctx context.Context, pageID string, props notionapi.Properties) error
}

// ImportSource loads imports for reporting.
type ImportSource interface {
	GetImport(ctx context.Context, id string) (domain.StatementImport, error)
}

var _ ReportPages = (*ReportDatabase)(nil)
