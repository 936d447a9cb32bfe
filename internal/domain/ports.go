package domain

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// BankAccount is the registry view of an account.
type BankAccount struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AccountRegistry resolves bank account references. Unknown ids yield a NotFound error.
type AccountRegistry interface {
	ResolveBankAccount(ctx context.Context, id string) (BankAccount, error)
}

// LedgerMovement is an internal cash/bank ledger record owned by the accounting side.
type LedgerMovement struct {
	ID            string          `json:"id"`
	BankAccountID string          `json:"bank_account_id"`
	Date          civil.Date      `json:"date"`
	Direction     Direction       `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	// LinkedStatementMovementID is empty unless the movement is reconciled.
	LinkedStatementMovementID string `json:"linked_statement_movement_id,omitempty"`
}

// Linked reports whether a statement movement holds the reconciled link.
func (l LedgerMovement) Linked() bool {
	return l.LinkedStatementMovementID != ""
}

// CandidateQuery bounds a ledger candidate search. Ranges are inclusive.
type CandidateQuery struct {
	BankAccountID string
	Direction     Direction
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	From          civil.Date
	To            civil.Date
}

// Ledger is the accounting collaborator. Availability failures wrap ErrLedgerUnavailable.
type Ledger interface {
	// FindCandidateMovements returns unlinked movements matching q.
	FindCandidateMovements(ctx context.Context, q CandidateQuery) ([]LedgerMovement, error)
	GetMovement(ctx context.Context, id string) (LedgerMovement, error)
	// MarkReconciled links the ledger movement to a statement movement if it is not linked yet.
	// claimed is true only when this call set the link; a link already held by
	// statementMovementID returns false and no error. Another holder gives ErrAlreadyLinked.
	MarkReconciled(ctx context.Context, ledgerID, statementMovementID string) (claimed bool, err error)
	// UnmarkReconciled releases a link held by statementMovementID.
	UnmarkReconciled(ctx context.Context, ledgerID, statementMovementID string) error
}

// ImportFilter narrows ListImports.
type ImportFilter struct {
	BankAccountID string
	Status        ImportStatus
}

// MovementFilter narrows ListMovements. Limit 0 means no limit.
type MovementFilter struct {
	ImportID string
	Status   MovementStatus
	Limit    int
	Offset   int
}

// Store persists imports and statement movements.
type Store interface {
	// CreateImport persists the import and all its movements atomically.
	CreateImport(ctx context.Context, imp StatementImport, movements []StatementMovement) error
	GetImport(ctx context.Context, id string) (StatementImport, error)
	ListImports(ctx context.Context, filter ImportFilter) ([]StatementImport, error)
	FindImportByChecksum(ctx context.Context, bankAccountID, checksum string) (StatementImport, bool, error)
	// CountMovements tallies the movements of an import by status.
	CountMovements(ctx context.Context, importID string) (Counters, error)
	// RepairCounters overwrites the stored counters of an import.
	RepairCounters(ctx context.Context, importID string, c Counters) error
	// FinalizeImport marks an in-progress import completed. It fails with a StateError otherwise.
	FinalizeImport(ctx context.Context, importID string, at time.Time) (StatementImport, error)
	// ListMovements returns the filtered page ordered by date then line, and the unpaged total.
	ListMovements(ctx context.Context, filter MovementFilter) ([]StatementMovement, int, error)
	GetMovement(ctx context.Context, id string) (StatementMovement, error)
	// UpdateResolution replaces the resolution of a movement whose current status is expected,
	// adjusting the import counters in the same unit. It fails with a StateError when the status
	// differs or the import is completed, and with a ConflictError when another movement already
	// holds a reconciled link to the same ledger movement.
	UpdateResolution(ctx context.Context, movementID string, expected MovementStatus, next Resolution, at time.Time) (StatementMovement, error)
	// SuggestedLedgerIDs returns the ledger ids currently suggested for movements of the account.
	SuggestedLedgerIDs(ctx context.Context, bankAccountID string) (map[string]int, error)
}
