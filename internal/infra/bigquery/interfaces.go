package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/reconciler/internal/domain"
	"google.golang.org/api/googleapi"
)

const (
	DefaultDataset    = "finance"
	accountsTable     = "accounts"
	transactionsTable = "transactions"
)

// Warehouse holds a shared BigQuery client and the dataset the ledger tables live in.
type Warehouse struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewWarehouse creates a client for projectID. An empty datasetID selects DefaultDataset.
func NewWarehouse(ctx context.Context, projectID, datasetID string) (*Warehouse, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewWarehouse: project id is required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewWarehouse: creating client: %w", err)
	}
	return NewWarehouseWithClient(client, projectID, datasetID), nil
}

func NewWarehouseWithClient(client *bigquery.Client, projectID, datasetID string) *Warehouse {
	if datasetID == "" {
		datasetID = DefaultDataset
	}
	return &Warehouse{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (w *Warehouse) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// table returns the fully qualified, quoted table name.
func (w *Warehouse) table(name string) string {
	return "`" + w.projectID + "." + w.datasetID + "." + name + "`"
}

// runDML runs a DML statement and returns the number of affected rows.
func (w *Warehouse) runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}
	return affectedRows(status), nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

// ledgerErr marks failures other than client errors (4xx) as ledger outages.
func ledgerErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrLedgerUnavailable, err)
}
