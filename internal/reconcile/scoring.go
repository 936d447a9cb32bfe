package reconcile

import (
	"math"
	"sort"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

// Component weights of the confidence score. They sum to 100.
const (
	amountWeight = 50
	dateWeight   = 30
	textWeight   = 20
)

// Breakdown is a confidence score with its components, each in [0, 1].
type Breakdown struct {
	Amount float64 `json:"amount"`
	Date   float64 `json:"date"`
	Text   float64 `json:"text"`
	Score  int     `json:"score"`
}

// scoreInput holds the values a score is computed from.
type scoreInput struct {
	amount    decimal.Decimal
	date      civil.Date
	concept   string
	tolerance decimal.Decimal
	window    int
}

// amountComponent is 1 for an exact match, falls linearly to 0.5 at the tolerance and is 0 beyond it.
func amountComponent(a, b, tolerance decimal.Decimal) float64 {
	diff := a.Sub(b).Abs()
	if diff.IsZero() {
		return 1
	}
	if !tolerance.IsPositive() || diff.GreaterThan(tolerance) {
		return 0
	}
	return 1 - 0.5*diff.Div(tolerance).InexactFloat64()
}

// dateComponent is 1 on the same day and decays linearly to 1/(window+1) at the window edge.
func dateComponent(days, window int) float64 {
	if days < 0 {
		days = -days
	}
	if days > window {
		return 0
	}
	return 1 - float64(days)/float64(window+1)
}

func daysBetween(a, b civil.Date) int {
	d := a.DaysSince(b)
	if d < 0 {
		return -d
	}
	return d
}

func score(in scoreInput, l domain.LedgerMovement) Breakdown {
	b := Breakdown{
		Amount: amountComponent(in.amount, l.Amount, in.tolerance),
		Date:   dateComponent(daysBetween(in.date, l.Date), in.window),
		Text:   TextSimilarity(in.concept, l.Description),
	}
	total := amountWeight*b.Amount + dateWeight*b.Date + textWeight*b.Text
	b.Score = int(math.Floor(total + 1e-9))
	if b.Score > 100 {
		b.Score = 100
	}
	return b
}

// Candidate is a scored ledger movement for one statement movement.
type Candidate struct {
	Ledger             domain.LedgerMovement `json:"ledger_movement"`
	Breakdown          Breakdown             `json:"breakdown"`
	DateDistance       int                   `json:"date_distance_days"`
	AmountDifference   decimal.Decimal       `json:"amount_difference"`
	SuggestedElsewhere bool                  `json:"suggested_elsewhere,omitempty"`
}

// rankForMatching orders candidates: highest score, closest date, not suggested for another
// movement, lowest ledger id.
func rankForMatching(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Breakdown.Score != b.Breakdown.Score {
			return a.Breakdown.Score > b.Breakdown.Score
		}
		if a.DateDistance != b.DateDistance {
			return a.DateDistance < b.DateDistance
		}
		if a.SuggestedElsewhere != b.SuggestedElsewhere {
			return !a.SuggestedElsewhere
		}
		return ledgerIDLess(a.Ledger.ID, b.Ledger.ID)
	})
}

// rankForSearch orders manual search results by date proximity, amount difference, then id.
func rankForSearch(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.DateDistance != b.DateDistance {
			return a.DateDistance < b.DateDistance
		}
		if c := a.AmountDifference.Cmp(b.AmountDifference); c != 0 {
			return c < 0
		}
		return ledgerIDLess(a.Ledger.ID, b.Ledger.ID)
	})
}

// ledgerIDLess compares numerically when both ids are integers, lexically otherwise.
func ledgerIDLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil && na != nb {
		return na < nb
	}
	return a < b
}
