package bigquery

import (
	"errors"
	"math/big"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestTransactionRowLedgerMovement(t *testing.T) {
	day := civil.Date{Year: 2024, Month: 3, Day: 1}
	tests := []struct {
		name          string
		row           TransactionRow
		wantDirection domain.Direction
		wantAmount    string
		wantDesc      string
		wantLinked    string
	}{
		{
			name:          "negative amount without direction is a debit",
			row:           TransactionRow{TransactionID: "t1", AccountID: "acc-1", TransactionDate: day, Amount: big.NewRat(-15000, 100), RawDescription: "ACME CORP INVOICE"},
			wantDirection: domain.DirectionDebit,
			wantAmount:    "150",
			wantDesc:      "ACME CORP INVOICE",
		},
		{
			name: "explicit direction wins over sign",
			row: TransactionRow{TransactionID: "t2", TransactionDate: day, Amount: big.NewRat(500, 1),
				Direction: bigquery.NullString{StringVal: "DEBIT", Valid: true}, RawDescription: "raw",
				NormalizedDescription: bigquery.NullString{StringVal: "Rent", Valid: true}},
			wantDirection: domain.DirectionDebit,
			wantAmount:    "500",
			wantDesc:      "Rent",
		},
		{
			name: "reconciled link is carried",
			row: TransactionRow{TransactionID: "t3", TransactionDate: day, Amount: big.NewRat(1, 4), RawDescription: "fee",
				ReconciledStatementMovementID: bigquery.NullString{StringVal: "M1", Valid: true}},
			wantDirection: domain.DirectionCredit,
			wantAmount:    "0.25",
			wantDesc:      "fee",
			wantLinked:    "M1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.row.LedgerMovement()
			assert.Equal(t, tt.row.TransactionID, m.ID)
			assert.Equal(t, day, m.Date)
			assert.Equal(t, tt.wantDirection, m.Direction)
			assert.True(t, m.Amount.Equal(decimal.RequireFromString(tt.wantAmount)), m.Amount.String())
			assert.Equal(t, tt.wantDesc, m.Description)
			assert.Equal(t, tt.wantLinked, m.LinkedStatementMovementID)
		})
	}
}

func TestRatToDecimal(t *testing.T) {
	assert.True(t, ratToDecimal(nil).IsZero())
	assert.True(t, ratToDecimal(big.NewRat(1, 3)).Equal(decimal.RequireFromString("0.333333333")))
	assert.True(t, ratToDecimal(decimal.RequireFromString("1234.56").Rat()).Equal(decimal.RequireFromString("1234.56")))
}

func TestAffectedRows(t *testing.T) {
	assert.Equal(t, int64(0), affectedRows(nil))
	assert.Equal(t, int64(0), affectedRows(&bigquery.JobStatus{}))
	status := &bigquery.JobStatus{Statistics: &bigquery.JobStatistics{Details: &bigquery.QueryStatistics{NumDMLAffectedRows: 1}}}
	assert.Equal(t, int64(1), affectedRows(status))
}

func TestLedgerErr(t *testing.T) {
	notFound := ledgerErr("GetMovement", &googleapi.Error{Code: http.StatusNotFound})
	assert.NotErrorIs(t, notFound, domain.ErrLedgerUnavailable)

	unavailable := ledgerErr("GetMovement", &googleapi.Error{Code: http.StatusServiceUnavailable})
	assert.ErrorIs(t, unavailable, domain.ErrLedgerUnavailable)

	network := ledgerErr("GetMovement", errors.New("dial tcp: i/o timeout"))
	assert.ErrorIs(t, network, domain.ErrLedgerUnavailable)
}

func TestWarehouseTableAndAccountLabel(t *testing.T) {
	wh := NewWarehouseWithClient(nil, "proj", "")
	assert.Equal(t, "`proj.finance.transactions`", wh.table(transactionsTable))
	assert.NoError(t, wh.Close())

	assert.Equal(t, "Main", AccountRow{AccountID: "a", AccountName: "Main", IBAN: "ES00"}.Label())
	assert.Equal(t, "ES00", AccountRow{AccountID: "a", IBAN: "ES00"}.Label())
	assert.Equal(t, "a", AccountRow{AccountID: "a"}.Label())
}
