package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedImport(t *testing.T, s *Store, id string, n int) []domain.StatementMovement {
	t.Helper()
	movements := make([]domain.StatementMovement, 0, n)
	for i := 0; i < n; i++ {
		movements = append(movements, domain.StatementMovement{
			ID:            id + "-m" + string(rune('a'+i)),
			ImportID:      id,
			BankAccountID: "acc-1",
			LineNo:        i + 1,
			// reverse date order to exercise sorting
			Date:       civil.Date{Year: 2024, Month: 3, Day: n - i},
			Amount:     decimal.NewFromInt(int64(i + 1)),
			Direction:  domain.DirectionDebit,
			Resolution: domain.Pending{},
		})
	}
	imp := domain.StatementImport{ID: id, BankAccountID: "acc-1", Status: domain.ImportInProgress, CreatedAt: time.Now()}
	require.NoError(t, s.CreateImport(context.Background(), imp, movements))
	return movements
}

func TestStore_ListMovementsOrderAndPaging(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedImport(t, s, "imp", 5)

	all, total, err := s.ListMovements(ctx, domain.MovementFilter{ImportID: "imp"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Date.Before(all[i-1].Date))
	}

	page, total, err := s.ListMovements(ctx, domain.MovementFilter{ImportID: "imp", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	empty, _, err := s.ListMovements(ctx, domain.MovementFilter{ImportID: "imp", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_UpdateResolutionCompareAndSet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ms := seedImport(t, s, "imp", 2)

	sug, err := domain.NewSuggested("L1", 90)
	require.NoError(t, err)

	_, err = s.UpdateResolution(ctx, ms[0].ID, domain.StatusSuggested, domain.Pending{}, time.Now())
	assert.True(t, domain.IsKind(err, domain.KindState))

	updated, err := s.UpdateResolution(ctx, ms[0].ID, domain.StatusPending, sug, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuggested, updated.Status())

	imp, err := s.GetImport(ctx, "imp")
	require.NoError(t, err)
	assert.Equal(t, domain.Counters{Total: 2, Pending: 1, Suggested: 1}, imp.Counters)

	ids, err := s.SuggestedLedgerIDs(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"L1": 1}, ids)
}

func TestStore_SingleReconciledLinkPerLedgerMovement(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ms := seedImport(t, s, "imp", 8)

	link, err := domain.NewReconciled("L1")
	require.NoError(t, err)

	var wins, conflicts int32
	var wg sync.WaitGroup
	for _, m := range ms {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.UpdateResolution(ctx, id, domain.StatusPending, link, time.Now())
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case domain.IsKind(err, domain.KindConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}(m.ID)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(len(ms)-1), conflicts)

	c, err := s.CountMovements(ctx, "imp")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Reconciled)
	assert.True(t, c.Consistent())
}

func TestStore_FinalizeFreezesImport(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ms := seedImport(t, s, "imp", 1)

	imp, err := s.FinalizeImport(ctx, "imp", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ImportCompleted, imp.Status)
	require.NotNil(t, imp.CompletedAt)

	_, err = s.FinalizeImport(ctx, "imp", time.Now())
	assert.True(t, domain.IsKind(err, domain.KindState))

	d, err := domain.NewDiscarded("noise")
	require.NoError(t, err)
	_, err = s.UpdateResolution(ctx, ms[0].ID, domain.StatusPending, d, time.Now())
	assert.True(t, domain.IsKind(err, domain.KindState))
}

func TestStore_NotFound(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.GetImport(ctx, "nope")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	_, err = s.GetMovement(ctx, "nope")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	_, err = s.FinalizeImport(ctx, "nope", time.Now())
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestLedger_MarkReconciledIsCompareAndSet(t *testing.T) {
	l := NewLedger(domain.LedgerMovement{ID: "L1", BankAccountID: "acc-1", Direction: domain.DirectionDebit, Amount: decimal.NewFromInt(10)})
	ctx := context.Background()

	claimed, err := l.MarkReconciled(ctx, "L1", "M1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A repeat by the holder succeeds without claiming.
	claimed, err = l.MarkReconciled(ctx, "L1", "M1")
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = l.MarkReconciled(ctx, "L1", "M2")
	assert.ErrorIs(t, err, domain.ErrAlreadyLinked)
	assert.False(t, claimed)

	require.NoError(t, l.UnmarkReconciled(ctx, "L1", "M2"))
	m, err := l.GetMovement(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "M1", m.LinkedStatementMovementID)

	require.NoError(t, l.UnmarkReconciled(ctx, "L1", "M1"))
	claimed, err = l.MarkReconciled(ctx, "L1", "M2")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = l.MarkReconciled(ctx, "missing", "M1")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestLedger_FindCandidateMovementsFilters(t *testing.T) {
	day := func(d int) civil.Date { return civil.Date{Year: 2024, Month: 3, Day: d} }
	l := NewLedger(
		domain.LedgerMovement{ID: "in-range", BankAccountID: "acc-1", Direction: domain.DirectionDebit, Amount: decimal.NewFromInt(100), Date: day(5)},
		domain.LedgerMovement{ID: "other-account", BankAccountID: "acc-2", Direction: domain.DirectionDebit, Amount: decimal.NewFromInt(100), Date: day(5)},
		domain.LedgerMovement{ID: "credit", BankAccountID: "acc-1", Direction: domain.DirectionCredit, Amount: decimal.NewFromInt(100), Date: day(5)},
		domain.LedgerMovement{ID: "too-late", BankAccountID: "acc-1", Direction: domain.DirectionDebit, Amount: decimal.NewFromInt(100), Date: day(20)},
		domain.LedgerMovement{ID: "too-big", BankAccountID: "acc-1", Direction: domain.DirectionDebit, Amount: decimal.NewFromInt(101), Date: day(5)},
		domain.LedgerMovement{ID: "linked", BankAccountID: "acc-1", Direction: domain.DirectionDebit, Amount: decimal.NewFromInt(100), Date: day(5), LinkedStatementMovementID: "M9"},
	)

	got, err := l.FindCandidateMovements(context.Background(), domain.CandidateQuery{
		BankAccountID: "acc-1",
		Direction:     domain.DirectionDebit,
		MinAmount:     decimal.RequireFromString("99.99"),
		MaxAmount:     decimal.RequireFromString("100.01"),
		From:          day(1),
		To:            day(10),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "in-range", got[0].ID)
}
