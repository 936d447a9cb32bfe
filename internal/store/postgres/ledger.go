package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ledgerColumns = `id, bank_account_id, tx_date, direction, amount::text, description, COALESCE(statement_movement_id, '')`

// Ledger reads and links the ledger_movements table. Use it when the accounting ledger lives
// in the same database as the statements.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// ledgerErr marks failures that did not come back from the server as ledger outages.
func ledgerErr(op string, err error) error {
	if _, ok := pgError(err); ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrLedgerUnavailable, err)
}

func scanLedgerMovement(row pgx.Row) (domain.LedgerMovement, error) {
	var (
		l         domain.LedgerMovement
		txDate    time.Time
		direction string
		amount    string
	)
	if err := row.Scan(&l.ID, &l.BankAccountID, &txDate, &direction, &amount, &l.Description, &l.LinkedStatementMovementID); err != nil {
		return domain.LedgerMovement{}, err
	}
	l.Date = civil.DateOf(txDate)
	l.Direction = domain.Direction(direction)
	var err error
	if l.Amount, err = parseNumeric("amount", amount); err != nil {
		return domain.LedgerMovement{}, err
	}
	return l, nil
}

func (l *Ledger) FindCandidateMovements(ctx context.Context, q domain.CandidateQuery) ([]domain.LedgerMovement, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_movements
		WHERE bank_account_id = $1
		  AND direction = $2
		  AND amount BETWEEN $3::numeric AND $4::numeric
		  AND tx_date BETWEEN $5 AND $6
		  AND statement_movement_id IS NULL
		ORDER BY id`,
		q.BankAccountID, string(q.Direction), q.MinAmount.String(), q.MaxAmount.String(), dateArg(q.From), dateArg(q.To))
	if err != nil {
		return nil, ledgerErr("FindCandidateMovements", err)
	}
	defer rows.Close()

	var out []domain.LedgerMovement
	for rows.Next() {
		m, err := scanLedgerMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("FindCandidateMovements: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgerErr("FindCandidateMovements", err)
	}
	return out, nil
}

func (l *Ledger) GetMovement(ctx context.Context, id string) (domain.LedgerMovement, error) {
	m, err := scanLedgerMovement(l.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_movements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerMovement{}, domain.NotFoundErrorf("ledger movement %s not found", id)
	}
	if err != nil {
		return domain.LedgerMovement{}, ledgerErr("GetMovement", err)
	}
	return m, nil
}

// MarkReconciled sets the link only while it is unset. When no row changes, the current holder
// decides between an idempotent repeat and ErrAlreadyLinked.
func (l *Ledger) MarkReconciled(ctx context.Context, ledgerID, statementMovementID string) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		UPDATE ledger_movements
		SET statement_movement_id = $2, reconciled_at = NOW()
		WHERE id = $1 AND statement_movement_id IS NULL`,
		ledgerID, statementMovementID)
	if err != nil {
		return false, ledgerErr("MarkReconciled", err)
	}
	if tag.RowsAffected() == 1 {
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
	_, err := l.pool.Exec(ctx, `
		UPDATE ledger_movements
		SET statement_movement_id = NULL, reconciled_at = NULL
		WHERE id = $1 AND statement_movement_id = $2`,
		ledgerID, statementMovementID)
	if err != nil {
		return ledgerErr("UnmarkReconciled", err)
	}
	return nil
}

var _ domain.Ledger = (*Ledger)(nil)
