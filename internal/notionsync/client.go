package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
)

// QueryPageSize is the page size used when scanning the reports database.
const QueryPageSize = 100

// ReportDatabase is the Notion database holding one report page per import, titled with the
// import ID.
type ReportDatabase struct {
	pages     notionapi.PageService
	databases notionapi.DatabaseService
	id        notionapi.DatabaseID
}

// NewReportDatabase connects to databaseID with an integration token.
func NewReportDatabase(token, databaseID string) *ReportDatabase {
	client := notionapi.NewClient(notionapi.Token(token))
	return newReportDatabase(client.Page, client.Database, databaseID)
}

func newReportDatabase(pages notionapi.PageService, databases notionapi.DatabaseService, databaseID string) *ReportDatabase {
	return &ReportDatabase{
		pages:     pages,
		databases: databases,
		id:        notionapi.DatabaseID(databaseID),
	}
}

// Find scans the database for the report of importID and returns its page ID, or "" when the
// import has not been reported yet.
func (d *ReportDatabase) Find(ctx context.Context, importID string) (string, error) {
	req := &notionapi.DatabaseQueryRequest{PageSize: QueryPageSize}
	for {
		resp, err := d.databases.Query(ctx, d.id, req)
		if err != nil {
			return "", fmt.Errorf("query database %s: %w", d.id, err)
		}
		for _, page := range resp.Results {
			if extractImportID(page) == importID {
				return string(page.ID), nil
			}
		}
		if !resp.HasMore {
			return "", nil
		}
		req.StartCursor = resp.NextCursor
	}
}

func (d *ReportDatabase) Create(ctx context.Context, props notionapi.Properties) (string, error) {
	page, err := d.pages.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: d.id,
		},
		Properties: props,
	})
	if err != nil {
		return "", fmt.Errorf("create page in %s: %w", d.id, err)
	}
	return string(page.ID), nil
}

// Update overwrites the given properties; properties not in props are left as they are.
func (d *ReportDatabase) Update(ctx context.Context, pageID string, props notionapi.Properties) error {
	_, err := d.pages.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: props})
	if err != nil {
		return fmt.Errorf("update page %s: %w", pageID, err)
	}
	return nil
}
