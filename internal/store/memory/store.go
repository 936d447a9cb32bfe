// Package memory holds in-process implementations of the store, ledger and account registry.
// Data is lost on restart; use the postgres package for persistence.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/reconciler/internal/domain"
)

// Store is an in-memory domain.Store, safe for concurrent use. Values are copied in and out.
type Store struct {
	mu        sync.RWMutex
	imports   map[string]domain.StatementImport
	movements map[string]domain.StatementMovement
	// byImport keeps movement ids in insertion order per import.
	byImport map[string][]string
	// reconciledBy maps a ledger movement id to the statement movement holding the reconciled link.
	reconciledBy map[string]string
}

func NewStore() *Store {
	return &Store{
		imports:      make(map[string]domain.StatementImport),
		movements:    make(map[string]domain.StatementMovement),
		byImport:     make(map[string][]string),
		reconciledBy: make(map[string]string),
	}
}

func (s *Store) CreateImport(ctx context.Context, imp domain.StatementImport, movements []domain.StatementMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.imports[imp.ID]; exists {
		return domain.ConflictErrorf("import %s already exists", imp.ID)
	}
	ids := make([]string, 0, len(movements))
	for _, m := range movements {
		if _, exists := s.movements[m.ID]; exists {
			return domain.ConflictErrorf("movement %s already exists", m.ID)
		}
		if m.ImportID != imp.ID {
			return domain.ValidationErrorf("movement %s belongs to import %s", m.ID, m.ImportID)
		}
		ids = append(ids, m.ID)
	}

	imp.Counters = domain.CountersOf(movements)
	s.imports[imp.ID] = imp
	for _, m := range movements {
		s.movements[m.ID] = m
		if id, ok := domain.LinkedLedgerID(m.Resolution); ok && m.Status() == domain.StatusReconciled {
			s.reconciledBy[id] = m.ID
		}
	}
	s.byImport[imp.ID] = ids
	return nil
}

func (s *Store) GetImport(ctx context.Context, id string) (domain.StatementImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	imp, ok := s.imports[id]
	if !ok {
		return domain.StatementImport{}, domain.NotFoundErrorf("import %s not found", id)
	}
	return imp, nil
}

func (s *Store) ListImports(ctx context.Context, filter domain.ImportFilter) ([]domain.StatementImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.StatementImport{}
	for _, imp := range s.imports {
		if filter.BankAccountID != "" && imp.BankAccountID != filter.BankAccountID {
			continue
		}
		if filter.Status != "" && imp.Status != filter.Status {
			continue
		}
		result = append(result, imp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (s *Store) FindImportByChecksum(ctx context.Context, bankAccountID, checksum string) (domain.StatementImport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, imp := range s.imports {
		if imp.BankAccountID == bankAccountID && imp.Checksum == checksum {
			return imp, true, nil
		}
	}
	return domain.StatementImport{}, false, nil
}

func (s *Store) CountMovements(ctx context.Context, importID string) (domain.Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.Counters
	for _, id := range s.byImport[importID] {
		c.Total++
		c.Add(s.movements[id].Status(), 1)
	}
	return c, nil
}

func (s *Store) RepairCounters(ctx context.Context, importID string, c domain.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	imp, ok := s.imports[importID]
	if !ok {
		return domain.NotFoundErrorf("import %s not found", importID)
	}
	imp.Counters = c
	s.imports[importID] = imp
	return nil
}

func (s *Store) FinalizeImport(ctx context.Context, importID string, at time.Time) (domain.StatementImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	imp, ok := s.imports[importID]
	if !ok {
		return domain.StatementImport{}, domain.NotFoundErrorf("import %s not found", importID)
	}
	if imp.Completed() {
		return domain.StatementImport{}, domain.StateErrorf("import %s is already completed", importID)
	}
	imp.Status = domain.ImportCompleted
	imp.CompletedAt = &at
	s.imports[importID] = imp
	return imp, nil
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StatementMovement, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.StatementMovement
	for _, id := range s.byImport[filter.ImportID] {
		m := s.movements[id]
		if filter.Status != "" && m.Status() != filter.Status {
			continue
		}
		matched = append(matched, m)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date.Before(matched[j].Date)
		}
		return matched[i].LineNo < matched[j].LineNo
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []domain.StatementMovement{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *Store) GetMovement(ctx context.Context, id string) (domain.StatementMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.movements[id]
	if !ok {
		return domain.StatementMovement{}, domain.NotFoundErrorf("statement movement %s not found", id)
	}
	return m, nil
}

func (s *Store) UpdateResolution(ctx context.Context, movementID string, expected domain.MovementStatus, next domain.Resolution, at time.Time) (domain.StatementMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movements[movementID]
	if !ok {
		return domain.StatementMovement{}, domain.NotFoundErrorf("statement movement %s not found", movementID)
	}
	imp := s.imports[m.ImportID]
	if imp.Completed() {
		return domain.StatementMovement{}, domain.StateErrorf("import %s is completed", imp.ID)
	}
	if m.Status() != expected {
		return domain.StatementMovement{}, domain.StateErrorf("movement %s is %s, expected %s", m.ID, m.Status(), expected)
	}
	if next.Status() == domain.StatusReconciled {
		ledgerID, _ := domain.LinkedLedgerID(next)
		if holder, taken := s.reconciledBy[ledgerID]; taken && holder != m.ID {
			return domain.StatementMovement{}, domain.ConflictErrorf("ledger movement %s is already reconciled with %s", ledgerID, holder)
		}
		s.reconciledBy[ledgerID] = m.ID
	}

	from := m.Status()
	m.Resolution = next
	m.UpdatedAt = at
	s.movements[m.ID] = m
	imp.Counters.Move(from, next.Status())
	s.imports[imp.ID] = imp
	return m, nil
}

func (s *Store) SuggestedLedgerIDs(ctx context.Context, bankAccountID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	for _, m := range s.movements {
		if m.BankAccountID != bankAccountID || m.Status() != domain.StatusSuggested {
			continue
		}
		if id, ok := domain.LinkedLedgerID(m.Resolution); ok {
			out[id]++
		}
	}
	return out, nil
}

// SetCounters overwrites stored counters without touching movements, simulating an out-of-band update.
func (s *Store) SetCounters(importID string, c domain.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp := s.imports[importID]
	imp.Counters = c
	s.imports[importID] = imp
}

var _ domain.Store = (*Store)(nil)
