package bigquery

import (
	"math/big"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionRow is the ledger view of a row in finance.transactions.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	AccountID     string `bigquery:"account_id"`     // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	// Amount is signed in the warehouse; direction wins when present.
	Amount    *big.Rat            `bigquery:"amount"`    // REQUIRED NUMERIC
	Direction bigquery.NullString `bigquery:"direction"` // NULLABLE, DEBIT or CREDIT

	RawDescription        string              `bigquery:"raw_description"`        // REQUIRED
	NormalizedDescription bigquery.NullString `bigquery:"normalized_description"` // NULLABLE

	ReconciledStatementMovementID bigquery.NullString    `bigquery:"reconciled_statement_movement_id"` // NULLABLE
	ReconciledTS                  bigquery.NullTimestamp `bigquery:"reconciled_ts"`                    // NULLABLE
}

// ratToDecimal converts a NUMERIC value; BigQuery NUMERIC has at most 9 fractional digits.
func ratToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(9))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// LedgerMovement maps the row to the domain ledger movement. Amounts are absolute.
func (t TransactionRow) LedgerMovement() domain.LedgerMovement {
	amount := ratToDecimal(t.Amount)
	direction := domain.DirectionOf(amount)
	if t.Direction.Valid {
		if d, err := domain.ParseDirection(strings.ToLower(strings.TrimSpace(t.Direction.StringVal))); err == nil {
			direction = d
		}
	}

	description := t.RawDescription
	if t.NormalizedDescription.Valid && strings.TrimSpace(t.NormalizedDescription.StringVal) != "" {
		description = t.NormalizedDescription.StringVal
	}

	m := domain.LedgerMovement{
		ID:            t.TransactionID,
		BankAccountID: t.AccountID,
		Date:          t.TransactionDate,
		Direction:     direction,
		Amount:        amount.Abs(),
		Description:   description,
	}
	if t.ReconciledStatementMovementID.Valid {
		m.LinkedStatementMovementID = t.ReconciledStatementMovementID.StringVal
	}
	return m
}
