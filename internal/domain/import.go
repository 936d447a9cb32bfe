package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// ImportStatus is the lifecycle status of a statement import.
type ImportStatus string

const (
	ImportInProgress ImportStatus = "in_progress"
	ImportCompleted  ImportStatus = "completed"
)

// Counters aggregates the movements of an import by status.
type Counters struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Suggested  int `json:"suggested"`
	Reconciled int `json:"reconciled"`
	Discarded  int `json:"discarded"`
}

// Consistent reports whether the per-status counts add up to the total.
func (c Counters) Consistent() bool {
	return c.Pending >= 0 && c.Suggested >= 0 && c.Reconciled >= 0 && c.Discarded >= 0 &&
		c.Pending+c.Suggested+c.Reconciled+c.Discarded == c.Total
}

// Add increments the bucket for status by n.
func (c *Counters) Add(status MovementStatus, n int) {
	switch status {
	case StatusPending:
		c.Pending += n
	case StatusSuggested:
		c.Suggested += n
	case StatusReconciled:
		c.Reconciled += n
	case StatusDiscarded:
		c.Discarded += n
	}
}

// Move shifts one movement from one status bucket to another.
func (c *Counters) Move(from, to MovementStatus) {
	if from == to {
		return
	}
	c.Add(from, -1)
	c.Add(to, 1)
}

// CountersOf tallies a set of movements.
func CountersOf(movements []StatementMovement) Counters {
	var c Counters
	for _, m := range movements {
		c.Total++
		c.Add(m.Status(), 1)
	}
	return c
}

// StatementImport is one uploaded statement file and its aggregate state.
type StatementImport struct {
	ID            string       `json:"id"`
	BankAccountID string       `json:"bank_account_id"`
	Filename      string       `json:"filename"`
	Format        Format       `json:"format"`
	SourceURI     string       `json:"source_uri,omitempty"`
	Checksum      string       `json:"checksum_sha256"`
	PeriodStart   civil.Date   `json:"period_start"`
	PeriodEnd     civil.Date   `json:"period_end"`
	Status        ImportStatus `json:"status"`
	Counters      Counters     `json:"counters"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// Completed reports whether the import has been finalized.
func (i StatementImport) Completed() bool {
	return i.Status == ImportCompleted
}
