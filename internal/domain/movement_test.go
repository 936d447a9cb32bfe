package domain

import (
	"encoding/json"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSuggested(t *testing.T, ledgerID string, c int) Suggested {
	t.Helper()
	s, err := NewSuggested(ledgerID, c)
	require.NoError(t, err)
	return s
}

func TestTransitions(t *testing.T) {
	suggested := mustSuggested(t, "L1", 91)
	reconciled, err := NewReconciled("L2")
	require.NoError(t, err)
	discarded, err := NewDiscarded("bank fee")
	require.NoError(t, err)

	tests := []struct {
		name       string
		apply      func() (Resolution, error)
		wantStatus MovementStatus
		wantKind   Kind
	}{
		{"suggest pending", func() (Resolution, error) { return Suggest(Pending{}, "L1", 80) }, StatusSuggested, ""},
		{"suggest suggested", func() (Resolution, error) { return Suggest(suggested, "L1", 80) }, "", KindState},
		{"approve suggested", func() (Resolution, error) { return Approve(suggested) }, StatusReconciled, ""},
		{"approve pending", func() (Resolution, error) { return Approve(Pending{}) }, "", KindState},
		{"reject suggested", func() (Resolution, error) { return Reject(suggested) }, StatusPending, ""},
		{"reject pending", func() (Resolution, error) { return Reject(Pending{}) }, "", KindState},
		{"discard pending", func() (Resolution, error) { return Discard(Pending{}, "duplicate") }, StatusDiscarded, ""},
		{"discard blank reason", func() (Resolution, error) { return Discard(Pending{}, "  ") }, "", KindValidation},
		{"link pending", func() (Resolution, error) { return LinkManually(Pending{}, "L9") }, StatusReconciled, ""},
		{"link blank id", func() (Resolution, error) { return LinkManually(Pending{}, "") }, "", KindValidation},
		{"approve reconciled", func() (Resolution, error) { return Approve(reconciled) }, "", KindState},
		{"reject reconciled", func() (Resolution, error) { return Reject(reconciled) }, "", KindState},
		{"discard reconciled", func() (Resolution, error) { return Discard(reconciled, "x") }, "", KindState},
		{"link reconciled", func() (Resolution, error) { return LinkManually(reconciled, "L3") }, "", KindState},
		{"link discarded", func() (Resolution, error) { return LinkManually(discarded, "L3") }, "", KindState},
		{"suggest discarded", func() (Resolution, error) { return Suggest(discarded, "L3", 99) }, "", KindState},
		{"discard discarded", func() (Resolution, error) { return Discard(discarded, "again") }, "", KindState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.apply()
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status())
		})
	}
}

func TestApproveKeepsConfidenceManualLinkClearsIt(t *testing.T) {
	approved, err := Approve(mustSuggested(t, "L1", 87))
	require.NoError(t, err)
	id, ok := LinkedLedgerID(approved)
	assert.True(t, ok)
	assert.Equal(t, "L1", id)
	c, ok := ConfidenceOf(approved)
	assert.True(t, ok)
	assert.Equal(t, 87, c)

	manual, err := LinkManually(Pending{}, "L2")
	require.NoError(t, err)
	_, ok = ConfidenceOf(manual)
	assert.False(t, ok)
}

func TestNewSuggestedRejectsOutOfRangeConfidence(t *testing.T) {
	_, err := NewSuggested("L1", 101)
	assert.True(t, IsKind(err, KindValidation))
	_, err = NewSuggested("L1", -1)
	assert.True(t, IsKind(err, KindValidation))
}

func TestRestoreResolutionEnforcesLinkInvariant(t *testing.T) {
	c := 70
	_, err := RestoreResolution(StatusPending, "L1", nil, "")
	assert.Error(t, err)
	_, err = RestoreResolution(StatusReconciled, "", nil, "")
	assert.Error(t, err)
	_, err = RestoreResolution(StatusSuggested, "L1", nil, "")
	assert.Error(t, err)

	r, err := RestoreResolution(StatusSuggested, "L1", &c, "")
	require.NoError(t, err)
	assert.Equal(t, mustSuggested(t, "L1", 70), r)
}

func TestStatementMovementJSON(t *testing.T) {
	m := StatementMovement{
		ID:         "M1",
		ImportID:   "I1",
		LineNo:     1,
		Date:       civil.Date{Year: 2024, Month: 3, Day: 1},
		Concept:    "PAYMENT ACME CORP",
		Amount:     decimal.RequireFromString("150.00"),
		Direction:  DirectionDebit,
		Resolution: mustSuggested(t, "L7", 93),
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "suggested", raw["status"])
	assert.Equal(t, "L7", raw["linked_ledger_movement_id"])
	assert.Equal(t, float64(93), raw["confidence"])
	assert.Equal(t, "2024-03-01", raw["date"])

	var back StatementMovement
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m.Resolution, back.Resolution)
	assert.True(t, m.Amount.Equal(back.Amount))
}

func TestPendingMovementSerializesNullLink(t *testing.T) {
	data, err := json.Marshal(StatementMovement{ID: "M1", Resolution: Pending{}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"linked_ledger_movement_id":null`)
	assert.NotContains(t, string(data), "confidence")
}

func TestCounters(t *testing.T) {
	c := Counters{Total: 3, Pending: 3}
	assert.True(t, c.Consistent())
	c.Move(StatusPending, StatusSuggested)
	c.Move(StatusSuggested, StatusReconciled)
	c.Move(StatusPending, StatusDiscarded)
	assert.Equal(t, Counters{Total: 3, Pending: 1, Reconciled: 1, Discarded: 1}, c)
	assert.True(t, c.Consistent())

	c.Pending = 5
	assert.False(t, c.Consistent())
}

func TestFormatConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultFormatConfig().Validate())

	bad := DefaultFormatConfig()
	bad.Separator = "|"
	assert.True(t, IsKind(bad.Validate(), KindValidation))

	bad = DefaultFormatConfig()
	bad.DateFormat = "YYYYMMDD"
	assert.Error(t, bad.Validate())

	bad = DefaultFormatConfig()
	bad.AmountColumn = bad.DateColumn
	assert.Error(t, bad.Validate())

	bal := 3
	ok := DefaultFormatConfig()
	ok.BalanceColumn = &bal
	assert.NoError(t, ok.Validate())
}

func TestErrorMatching(t *testing.T) {
	err := ParseErrorf(4, "invalid amount %q", "abc")
	assert.Equal(t, `parse_error: line 4: invalid amount "abc"`, err.Error())
	assert.ErrorIs(t, err, &Error{Kind: KindParse})
	assert.NotErrorIs(t, err, &Error{Kind: KindImport})

	wrapped := ImportErrorf("statement rejected").Wrap(err)
	assert.Equal(t, KindImport, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, &Error{Kind: KindParse})
}
