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

const (
	checksumIndex   = "statement_imports_account_checksum_idx"
	reconciledIndex = "statement_movements_reconciled_ledger_idx"
)

const importColumns = `id, bank_account_id, filename, format, COALESCE(source_uri, ''), checksum_sha256,
	period_start, period_end, status, total, pending, suggested, reconciled, discarded, created_at, completed_at`

const movementColumns = `id, import_id, bank_account_id, line_no, tx_date, value_date, concept,
	COALESCE(reference, ''), amount::text, direction, balance::text, status,
	COALESCE(ledger_movement_id, ''), confidence, COALESCE(discard_reason, ''), updated_at`

// Store is a domain.Store on PostgreSQL. Each resolution change runs in its own transaction
// holding row locks on the movement and its import.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanImport(row pgx.Row) (domain.StatementImport, error) {
	var (
		imp         domain.StatementImport
		format      string
		status      string
		start, end  time.Time
		completedAt *time.Time
	)
	err := row.Scan(&imp.ID, &imp.BankAccountID, &imp.Filename, &format, &imp.SourceURI, &imp.Checksum,
		&start, &end, &status,
		&imp.Counters.Total, &imp.Counters.Pending, &imp.Counters.Suggested, &imp.Counters.Reconciled, &imp.Counters.Discarded,
		&imp.CreatedAt, &completedAt)
	if err != nil {
		return domain.StatementImport{}, err
	}
	imp.Format = domain.Format(format)
	imp.Status = domain.ImportStatus(status)
	imp.PeriodStart = civil.DateOf(start)
	imp.PeriodEnd = civil.DateOf(end)
	imp.CompletedAt = completedAt
	return imp, nil
}

func scanMovement(row pgx.Row) (domain.StatementMovement, error) {
	var (
		m          domain.StatementMovement
		txDate     time.Time
		valueDate  *time.Time
		amount     string
		balance    *string
		direction  string
		status     string
		ledgerID   string
		confidence *int
		reason     string
	)
	err := row.Scan(&m.ID, &m.ImportID, &m.BankAccountID, &m.LineNo, &txDate, &valueDate, &m.Concept,
		&m.Reference, &amount, &direction, &balance, &status, &ledgerID, &confidence, &reason, &m.UpdatedAt)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	m.Date = civil.DateOf(txDate)
	m.ValueDate = nullableDate(valueDate)
	m.Direction = domain.Direction(direction)
	if m.Amount, err = parseNumeric("amount", amount); err != nil {
		return domain.StatementMovement{}, err
	}
	if m.Balance, err = parseNullableNumeric("balance", balance); err != nil {
		return domain.StatementMovement{}, err
	}
	if m.Resolution, err = domain.RestoreResolution(domain.MovementStatus(status), ledgerID, confidence, reason); err != nil {
		return domain.StatementMovement{}, fmt.Errorf("movement %s: %w", m.ID, err)
	}
	return m, nil
}

// resolutionColumns flattens a resolution into status, ledger_movement_id, confidence and discard_reason.
func resolutionColumns(r domain.Resolution) (string, *string, *int, *string) {
	var ledgerID, reason *string
	var confidence *int
	if id, ok := domain.LinkedLedgerID(r); ok {
		ledgerID = &id
	}
	if c, ok := domain.ConfidenceOf(r); ok {
		confidence = &c
	}
	if d, ok := r.(domain.Discarded); ok {
		reason = nullableString(d.Reason())
	}
	return string(r.Status()), ledgerID, confidence, reason
}

// counterColumn maps a status to its counter column on statement_imports.
func counterColumn(s domain.MovementStatus) (string, error) {
	switch s {
	case domain.StatusPending, domain.StatusSuggested, domain.StatusReconciled, domain.StatusDiscarded:
		return string(s), nil
	}
	return "", fmt.Errorf("no counter column for status %q", s)
}

func (s *Store) CreateImport(ctx context.Context, imp domain.StatementImport, movements []domain.StatementMovement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("CreateImport: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	c := domain.CountersOf(movements)
	_, err = tx.Exec(ctx, `
		INSERT INTO statement_imports (id, bank_account_id, filename, format, source_uri, checksum_sha256,
			period_start, period_end, status, total, pending, suggested, reconciled, discarded, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		imp.ID, imp.BankAccountID, imp.Filename, string(imp.Format), nullableString(imp.SourceURI), imp.Checksum,
		dateArg(imp.PeriodStart), dateArg(imp.PeriodEnd), string(imp.Status),
		c.Total, c.Pending, c.Suggested, c.Reconciled, c.Discarded, imp.CreatedAt, imp.CompletedAt)
	if err != nil {
		switch {
		case isViolation(err, codeUniqueViolation, checksumIndex):
			return domain.ImportErrorf("identical statement already imported for bank account %s", imp.BankAccountID).Wrap(err)
		case isViolation(err, codeUniqueViolation, ""):
			return domain.ConflictErrorf("import %s already exists", imp.ID).Wrap(err)
		case isViolation(err, codeForeignKeyViolation, ""):
			return domain.ImportErrorf("bank account %s does not exist", imp.BankAccountID).Wrap(err)
		}
		return fmt.Errorf("CreateImport: insert import %s: %w", imp.ID, err)
	}

	batch := &pgx.Batch{}
	for _, m := range movements {
		if m.ImportID != imp.ID {
			return domain.ValidationErrorf("movement %s belongs to import %s", m.ID, m.ImportID)
		}
		status, ledgerID, confidence, reason := resolutionColumns(m.Resolution)
		batch.Queue(`
			INSERT INTO statement_movements (id, import_id, bank_account_id, line_no, tx_date, value_date, concept,
				reference, amount, direction, balance, status, ledger_movement_id, confidence, discard_reason, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11::numeric, $12, $13, $14, $15, $16)`,
			m.ID, m.ImportID, m.BankAccountID, m.LineNo, dateArg(m.Date), nullableDateArg(m.ValueDate), m.Concept,
			nullableString(m.Reference), m.Amount.String(), string(m.Direction), nullableNumericArg(m.Balance),
			status, ledgerID, confidence, reason, m.UpdatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for _, m := range movements {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isViolation(err, codeUniqueViolation, "") {
				return domain.ConflictErrorf("movement %s already exists", m.ID).Wrap(err)
			}
			return fmt.Errorf("CreateImport: insert movement %s (line %d): %w", m.ID, m.LineNo, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("CreateImport: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("CreateImport: commit: %w", err)
	}
	return nil
}

func (s *Store) GetImport(ctx context.Context, id string) (domain.StatementImport, error) {
	imp, err := scanImport(s.pool.QueryRow(ctx, `SELECT `+importColumns+` FROM statement_imports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatementImport{}, domain.NotFoundErrorf("import %s not found", id)
	}
	if err != nil {
		return domain.StatementImport{}, fmt.Errorf("GetImport: %s: %w", id, err)
	}
	return imp, nil
}

func (s *Store) ListImports(ctx context.Context, filter domain.ImportFilter) ([]domain.StatementImport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+importColumns+`
		FROM statement_imports
		WHERE ($1 = '' OR bank_account_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id`,
		filter.BankAccountID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("ListImports: query: %w", err)
	}
	defer rows.Close()

	result := []domain.StatementImport{}
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("ListImports: scan: %w", err)
		}
		result = append(result, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListImports: rows: %w", err)
	}
	return result, nil
}

func (s *Store) FindImportByChecksum(ctx context.Context, bankAccountID, checksum string) (domain.StatementImport, bool, error) {
	imp, err := scanImport(s.pool.QueryRow(ctx, `
		SELECT `+importColumns+`
		FROM statement_imports
		WHERE bank_account_id = $1 AND checksum_sha256 = $2`,
		bankAccountID, checksum))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatementImport{}, false, nil
	}
	if err != nil {
		return domain.StatementImport{}, false, fmt.Errorf("FindImportByChecksum: %w", err)
	}
	return imp, true, nil
}

func (s *Store) CountMovements(ctx context.Context, importID string) (domain.Counters, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM statement_movements
		WHERE import_id = $1
		GROUP BY status`, importID)
	if err != nil {
		return domain.Counters{}, fmt.Errorf("CountMovements: query: %w", err)
	}
	defer rows.Close()

	var c domain.Counters
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.Counters{}, fmt.Errorf("CountMovements: scan: %w", err)
		}
		c.Total += n
		c.Add(domain.MovementStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return domain.Counters{}, fmt.Errorf("CountMovements: rows: %w", err)
	}
	return c, nil
}

func (s *Store) RepairCounters(ctx context.Context, importID string, c domain.Counters) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE statement_imports
		SET total = $2, pending = $3, suggested = $4, reconciled = $5, discarded = $6
		WHERE id = $1`,
		importID, c.Total, c.Pending, c.Suggested, c.Reconciled, c.Discarded)
	if err != nil {
		return fmt.Errorf("RepairCounters: %s: %w", importID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundErrorf("import %s not found", importID)
	}
	return nil
}

func (s *Store) FinalizeImport(ctx context.Context, importID string, at time.Time) (domain.StatementImport, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.StatementImport{}, fmt.Errorf("FinalizeImport: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM statement_imports WHERE id = $1 FOR UPDATE`, importID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatementImport{}, domain.NotFoundErrorf("import %s not found", importID)
	}
	if err != nil {
		return domain.StatementImport{}, fmt.Errorf("FinalizeImport: lock %s: %w", importID, err)
	}
	if domain.ImportStatus(status) == domain.ImportCompleted {
		return domain.StatementImport{}, domain.StateErrorf("import %s is already completed", importID)
	}

	imp, err := scanImport(tx.QueryRow(ctx, `
		UPDATE statement_imports
		SET status = $2, completed_at = $3
		WHERE id = $1
		RETURNING `+importColumns,
		importID, string(domain.ImportCompleted), at))
	if err != nil {
		return domain.StatementImport{}, fmt.Errorf("FinalizeImport: update %s: %w", importID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.StatementImport{}, fmt.Errorf("FinalizeImport: commit: %w", err)
	}
	return imp, nil
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StatementMovement, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM statement_movements
		WHERE import_id = $1 AND ($2 = '' OR status = $2)`,
		filter.ImportID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListMovements: count: %w", err)
	}

	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+movementColumns+`
		FROM statement_movements
		WHERE import_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY tx_date, line_no, id
		LIMIT $3 OFFSET $4`,
		filter.ImportID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListMovements: query: %w", err)
	}
	defer rows.Close()

	result := []domain.StatementMovement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListMovements: scan: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListMovements: rows: %w", err)
	}
	return result, total, nil
}

func (s *Store) GetMovement(ctx context.Context, id string) (domain.StatementMovement, error) {
	m, err := scanMovement(s.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM statement_movements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatementMovement{}, domain.NotFoundErrorf("statement movement %s not found", id)
	}
	if err != nil {
		return domain.StatementMovement{}, fmt.Errorf("GetMovement: %s: %w", id, err)
	}
	return m, nil
}

// UpdateResolution is the compare-and-set for one movement. The movement and its import are
// locked, the expected status is checked, and the resolution and counters change together.
func (s *Store) UpdateResolution(ctx context.Context, movementID string, expected domain.MovementStatus, next domain.Resolution, at time.Time) (domain.StatementMovement, error) {
	fromCol, err := counterColumn(expected)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	toCol, err := counterColumn(next.Status())
	if err != nil {
		return domain.StatementMovement{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.StatementMovement{}, fmt.Errorf("UpdateResolution: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var importID, importStatus, current string
	err = tx.QueryRow(ctx, `
		SELECT i.id, i.status, m.status
		FROM statement_movements m
		JOIN statement_imports i ON i.id = m.import_id
		WHERE m.id = $1
		FOR UPDATE OF m, i`, movementID).Scan(&importID, &importStatus, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatementMovement{}, domain.NotFoundErrorf("statement movement %s not found", movementID)
	}
	if err != nil {
		return domain.StatementMovement{}, fmt.Errorf("UpdateResolution: lock %s: %w", movementID, err)
	}
	if domain.ImportStatus(importStatus) == domain.ImportCompleted {
		return domain.StatementMovement{}, domain.StateErrorf("import %s is completed", importID)
	}
	if domain.MovementStatus(current) != expected {
		return domain.StatementMovement{}, domain.StateErrorf("movement %s is %s, expected %s", movementID, current, expected)
	}

	status, ledgerID, confidence, reason := resolutionColumns(next)
	m, err := scanMovement(tx.QueryRow(ctx, `
		UPDATE statement_movements
		SET status = $2, ledger_movement_id = $3, confidence = $4, discard_reason = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+movementColumns,
		movementID, status, ledgerID, confidence, reason, at))
	if err != nil {
		if isViolation(err, codeUniqueViolation, reconciledIndex) {
			return domain.StatementMovement{}, domain.ConflictErrorf("ledger movement %s is already reconciled", *ledgerID).Wrap(err)
		}
		if isViolation(err, codeCheckViolation, "") {
			return domain.StatementMovement{}, domain.ValidationErrorf("resolution violates movement constraints").Wrap(err)
		}
		return domain.StatementMovement{}, fmt.Errorf("UpdateResolution: update %s: %w", movementID, err)
	}

	if fromCol != toCol {
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE statement_imports
			SET %[1]s = %[1]s - 1, %[2]s = %[2]s + 1
			WHERE id = $1`, fromCol, toCol), importID)
		if err != nil {
			return domain.StatementMovement{}, fmt.Errorf("UpdateResolution: counters of %s: %w", importID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.StatementMovement{}, fmt.Errorf("UpdateResolution: commit: %w", err)
	}
	return m, nil
}

func (s *Store) SuggestedLedgerIDs(ctx context.Context, bankAccountID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ledger_movement_id, COUNT(*)
		FROM statement_movements
		WHERE bank_account_id = $1 AND status = 'suggested'
		GROUP BY ledger_movement_id`, bankAccountID)
	if err != nil {
		return nil, fmt.Errorf("SuggestedLedgerIDs: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("SuggestedLedgerIDs: scan: %w", err)
		}
		out[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SuggestedLedgerIDs: rows: %w", err)
	}
	return out, nil
}

var _ domain.Store = (*Store)(nil)
