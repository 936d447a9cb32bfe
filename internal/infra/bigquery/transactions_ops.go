package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/reconciler/internal/domain"
	"google.golang.org/api/iterator"
)

// Ledger exposes finance.transactions as the reconciliation ledger. The reconciled link is the
// reconciled_statement_movement_id column, set with a conditional DML update.
type Ledger struct {
	wh *Warehouse
}

func NewLedger(wh *Warehouse) *Ledger {
	return &Ledger{wh: wh}
}

const transactionColumns = `
			transaction_id,
			account_id,
			transaction_date,
			amount,
			direction,
			raw_description,
			normalized_description,
			reconciled_statement_movement_id,
			reconciled_ts`

func (l *Ledger) FindCandidateMovements(ctx context.Context, q domain.CandidateQuery) ([]domain.LedgerMovement, error) {
	query := l.wh.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE account_id = @account_id
		  AND transaction_date BETWEEN @from_date AND @to_date
		  AND ABS(amount) BETWEEN @min_amount AND @max_amount
		  AND reconciled_statement_movement_id IS NULL
		ORDER BY transaction_id
	`, transactionColumns, l.wh.table(transactionsTable)))
	query.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: q.BankAccountID},
		{Name: "from_date", Value: q.From},
		{Name: "to_date", Value: q.To},
		{Name: "min_amount", Value: q.MinAmount.Rat()},
		{Name: "max_amount", Value: q.MaxAmount.Rat()},
	}

	it, err := query.Read(ctx)
	if err != nil {
		return nil, ledgerErr("FindCandidateMovements: query read", err)
	}

	var out []domain.LedgerMovement
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, ledgerErr("FindCandidateMovements: iter next", err)
		}
		// Direction is derived per row, so it is filtered here rather than in SQL.
		if m := row.LedgerMovement(); m.Direction == q.Direction {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *Ledger) GetMovement(ctx context.Context, id string) (domain.LedgerMovement, error) {
	query := l.wh.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE transaction_id = @transaction_id
		LIMIT 1
	`, transactionColumns, l.wh.table(transactionsTable)))
	query.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: id},
	}

	it, err := query.Read(ctx)
	if err != nil {
		return domain.LedgerMovement{}, ledgerErr("GetMovement: query read", err)
	}
	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return domain.LedgerMovement{}, domain.NotFoundErrorf("ledger movement %s not found", id)
	}
	if err != nil {
		return domain.LedgerMovement{}, ledgerErr("GetMovement: iter next", err)
	}
	return row.LedgerMovement(), nil
}

// MarkReconciled relies on the WHERE clause of a single UPDATE statement: zero affected rows
// means the link is already held, by statementMovementID or by another movement.
func (l *Ledger) MarkReconciled(ctx context.Context, ledgerID, statementMovementID string) (bool, error) {
	q := l.wh.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET reconciled_statement_movement_id = @statement_movement_id,
		    reconciled_ts = @reconciled_ts
		WHERE transaction_id = @transaction_id
		  AND reconciled_statement_movement_id IS NULL
	`, l.wh.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: ledgerID},
		{Name: "statement_movement_id", Value: statementMovementID},
		{Name: "reconciled_ts", Value: time.Now().UTC()},
	}

	affected, err := l.wh.runDML(ctx, q)
	if err != nil {
		return false, ledgerErr("MarkReconciled", err)
	}
	if affected > 0 {
		return true, nil
	}
	current, err := l.GetMovement(ctx, ledgerID)
	if err != nil {
		return false, err
	}
	if current.LinkedStatementMovementID == statementMovementID {
		return false, nil
	}
	return false, domain.ErrAlreadyLinked
}

func (l *Ledger) UnmarkReconciled(ctx context.Context, ledgerID, statementMovementID string) error {
	q := l.wh.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET reconciled_statement_movement_id = NULL,
		    reconciled_ts = NULL
		WHERE transaction_id = @transaction_id
		  AND reconciled_statement_movement_id = @statement_movement_id
	`, l.wh.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: ledgerID},
		{Name: "statement_movement_id", Value: statementMovementID},
	}

	if _, err := l.wh.runDML(ctx, q); err != nil {
		return ledgerErr("UnmarkReconciled", err)
	}
	return nil
}

var _ domain.Ledger = (*Ledger)(nil)
