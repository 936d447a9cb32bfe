package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolutionColumns(t *testing.T) {
	sug, err := domain.NewSuggested("L-1", 87)
	require.NoError(t, err)
	rec, err := domain.NewReconciled("L-2")
	require.NoError(t, err)
	dis, err := domain.NewDiscarded("bank fee")
	require.NoError(t, err)

	tests := []struct {
		name       string
		r          domain.Resolution
		status     string
		ledgerID   string
		confidence *int
		reason     string
	}{
		{"pending", domain.Pending{}, "pending", "", nil, ""},
		{"suggested", sug, "suggested", "L-1", intPtr(87), ""},
		{"manual link", rec, "reconciled", "L-2", nil, ""},
		{"discarded", dis, "discarded", "", nil, "bank fee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ledgerID, confidence, reason := resolutionColumns(tt.r)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.ledgerID, deref(ledgerID))
			assert.Equal(t, tt.confidence, confidence)
			assert.Equal(t, tt.reason, deref(reason))

			// The columns must restore the same resolution.
			restored, err := domain.RestoreResolution(domain.MovementStatus(status), deref(ledgerID), confidence, deref(reason))
			require.NoError(t, err)
			assert.Equal(t, tt.r, restored)
		})
	}
}

func TestCounterColumn(t *testing.T) {
	for _, s := range []domain.MovementStatus{domain.StatusPending, domain.StatusSuggested, domain.StatusReconciled, domain.StatusDiscarded} {
		col, err := counterColumn(s)
		require.NoError(t, err)
		assert.Equal(t, string(s), col)
	}
	_, err := counterColumn("total; DROP TABLE statement_imports")
	assert.Error(t, err)
}

func TestIsViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: reconciledIndex})

	assert.True(t, isViolation(err, codeUniqueViolation, ""))
	assert.True(t, isViolation(err, codeUniqueViolation, reconciledIndex))
	assert.False(t, isViolation(err, codeUniqueViolation, checksumIndex))
	assert.False(t, isViolation(err, codeForeignKeyViolation, ""))
	assert.False(t, isViolation(errors.New("boom"), codeUniqueViolation, ""))
}

func TestLedgerErrClassifiesOutages(t *testing.T) {
	outage := ledgerErr("FindCandidateMovements", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"))
	assert.ErrorIs(t, outage, domain.ErrLedgerUnavailable)

	serverErr := ledgerErr("FindCandidateMovements", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	assert.NotErrorIs(t, serverErr, domain.ErrLedgerUnavailable)
}

func TestDateAndNumericHelpers(t *testing.T) {
	d := civil.Date{Year: 2024, Month: 2, Day: 29}
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), dateArg(d))
	assert.Nil(t, nullableDateArg(nil))
	assert.Nil(t, nullableDate(nil))

	back := nullableDate(nullableDateArg(&d))
	require.NotNil(t, back)
	assert.Equal(t, d, *back)

	amount, err := parseNumeric("amount", "1234.50")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("1234.5")))
	_, err = parseNumeric("amount", "NaN")
	assert.Error(t, err)

	none, err := parseNullableNumeric("balance", nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Nil(t, nullableNumericArg(nil))
	assert.Equal(t, "-3.2", *nullableNumericArg(&[]decimal.Decimal{decimal.RequireFromString("-3.20")}[0]))
}

func intPtr(v int) *int { return &v }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
