package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dvloznov/reconciler/internal/domain"
)

// Ledger is an in-memory domain.Ledger. MarkReconciled is a compare-and-set under the lock.
type Ledger struct {
	mu        sync.RWMutex
	movements map[string]domain.LedgerMovement
	// Err, when set, is returned by FindCandidateMovements. Tests use it to simulate outages.
	Err error
}

func NewLedger(movements ...domain.LedgerMovement) *Ledger {
	l := &Ledger{movements: make(map[string]domain.LedgerMovement)}
	for _, m := range movements {
		l.movements[m.ID] = m
	}
	return l
}

// Add inserts or replaces a ledger movement.
func (l *Ledger) Add(m domain.LedgerMovement) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.movements[m.ID] = m
}

func (l *Ledger) FindCandidateMovements(ctx context.Context, q domain.CandidateQuery) ([]domain.LedgerMovement, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.Err != nil {
		return nil, l.Err
	}
	var out []domain.LedgerMovement
	for _, m := range l.movements {
		if m.Linked() || m.BankAccountID != q.BankAccountID || m.Direction != q.Direction {
			continue
		}
		if m.Amount.LessThan(q.MinAmount) || m.Amount.GreaterThan(q.MaxAmount) {
			continue
		}
		if m.Date.Before(q.From) || m.Date.After(q.To) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *Ledger) GetMovement(ctx context.Context, id string) (domain.LedgerMovement, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.movements[id]
	if !ok {
		return domain.LedgerMovement{}, domain.NotFoundErrorf("ledger movement %s not found", id)
	}
	return m, nil
}

func (l *Ledger) MarkReconciled(ctx context.Context, ledgerID, statementMovementID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.movements[ledgerID]
	if !ok {
		return false, domain.NotFoundErrorf("ledger movement %s not found", ledgerID)
	}
	if m.Linked() {
		if m.LinkedStatementMovementID == statementMovementID {
			return false, nil
		}
		return false, domain.ErrAlreadyLinked
	}
	m.LinkedStatementMovementID = statementMovementID
	l.movements[ledgerID] = m
	return true, nil
}

func (l *Ledger) UnmarkReconciled(ctx context.Context, ledgerID, statementMovementID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.movements[ledgerID]
	if !ok {
		return domain.NotFoundErrorf("ledger movement %s not found", ledgerID)
	}
	if m.LinkedStatementMovementID == statementMovementID {
		m.LinkedStatementMovementID = ""
		l.movements[ledgerID] = m
	}
	return nil
}

var _ domain.Ledger = (*Ledger)(nil)
