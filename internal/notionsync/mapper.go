package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the import reports database.
const (
	propImportID    = "Import ID"
	propBankAccount = "Bank Account"
	propFilename    = "Filename"
	propFormat      = "Format"
	propStatus      = "Status"
	propPeriod      = "Period"
	propCompleted   = "Completed"
	propTotal       = "Total"
	propReconciled  = "Reconciled"
	propDiscarded   = "Discarded"
	propUnresolved  = "Unresolved"
	propMatchRate   = "Match Rate"
	propSourceFile  = "Source File"
)

// ImportToNotionProperties converts a statement import into the properties of its report page.
func ImportToNotionProperties(imp domain.StatementImport) notionapi.Properties {
	c := imp.Counters
	props := notionapi.Properties{
		propImportID: notionapi.TitleProperty{
			Title: richText(imp.ID),
		},
		propBankAccount: notionapi.SelectProperty{
			Select: notionapi.Option{Name: imp.BankAccountID},
		},
		propFilename: notionapi.RichTextProperty{
			RichText: richText(imp.Filename),
		},
		propFormat: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(imp.Format)},
		},
		propStatus: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(imp.Status)},
		},
		propTotal:      notionapi.NumberProperty{Number: float64(c.Total)},
		propReconciled: notionapi.NumberProperty{Number: float64(c.Reconciled)},
		propDiscarded:  notionapi.NumberProperty{Number: float64(c.Discarded)},
		propUnresolved: notionapi.NumberProperty{Number: float64(c.Pending + c.Suggested)},
		propMatchRate:  notionapi.NumberProperty{Number: matchRate(c)},
	}

	if imp.PeriodStart.IsValid() {
		period := &notionapi.DateObject{Start: notionDate(imp.PeriodStart)}
		if imp.PeriodEnd.IsValid() && imp.PeriodEnd != imp.PeriodStart {
			period.End = notionDate(imp.PeriodEnd)
		}
		props[propPeriod] = notionapi.DateProperty{Date: period}
	}

	if imp.CompletedAt != nil {
		completed := notionapi.Date(imp.CompletedAt.UTC())
		props[propCompleted] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &completed},
		}
	}

	if imp.SourceURI != "" {
		props[propSourceFile] = notionapi.URLProperty{URL: imp.SourceURI}
	}

	return props
}

// matchRate is the reconciled share of the import, rounded to four decimal places.
func matchRate(c domain.Counters) float64 {
	if c.Total == 0 {
		return 0
	}
	rate := float64(c.Reconciled) / float64(c.Total)
	return float64(int(rate*10000+0.5)) / 10000
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

func notionDate(d civil.Date) *notionapi.Date {
	nd := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return &nd
}

// extractImportID reads the report's title property. Returns empty string if not found.
func extractImportID(page notionapi.Page) string {
	if prop, ok := page.Properties[propImportID]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
