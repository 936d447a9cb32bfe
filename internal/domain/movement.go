package domain

import (
	"encoding/json"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// MovementStatus is the reconciliation status of a statement movement.
type MovementStatus string

const (
	StatusPending    MovementStatus = "pending"
	StatusSuggested  MovementStatus = "suggested"
	StatusReconciled MovementStatus = "reconciled"
	StatusDiscarded  MovementStatus = "discarded"
)

// Terminal reports whether no further transition is allowed.
func (s MovementStatus) Terminal() bool {
	return s == StatusReconciled || s == StatusDiscarded
}

// ParseMovementStatus validates a status filter value.
func ParseMovementStatus(s string) (MovementStatus, error) {
	switch st := MovementStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusSuggested, StatusReconciled, StatusDiscarded:
		return st, nil
	}
	return "", ValidationErrorf("invalid movement status %q", s)
}

// Resolution is the reconciliation state of a statement movement. The set of
// implementations is closed: Pending, Suggested, Reconciled and Discarded.
type Resolution interface {
	Status() MovementStatus
	sealed()
}

// Pending is the initial state: no candidate recorded.
type Pending struct{}

func (Pending) Status() MovementStatus { return StatusPending }
func (Pending) sealed()                {}

// Suggested holds the engine's best candidate and its confidence.
type Suggested struct {
	ledgerID   string
	confidence int
}

// NewSuggested validates the ledger id and a 0-100 confidence.
func NewSuggested(ledgerID string, confidence int) (Suggested, error) {
	if strings.TrimSpace(ledgerID) == "" {
		return Suggested{}, ValidationErrorf("suggested resolution requires a ledger movement id")
	}
	if confidence < 0 || confidence > 100 {
		return Suggested{}, ValidationErrorf("confidence %d outside 0..100", confidence)
	}
	return Suggested{ledgerID: ledgerID, confidence: confidence}, nil
}

func (Suggested) Status() MovementStatus     { return StatusSuggested }
func (Suggested) sealed()                    {}
func (s Suggested) LedgerMovementID() string { return s.ledgerID }
func (s Suggested) Confidence() int          { return s.confidence }

// Reconciled is a confirmed link. Confidence is kept when the link came from an approved suggestion.
type Reconciled struct {
	ledgerID   string
	confidence *int
}

// NewReconciled builds a manual link, which carries no confidence.
func NewReconciled(ledgerID string) (Reconciled, error) {
	if strings.TrimSpace(ledgerID) == "" {
		return Reconciled{}, ValidationErrorf("reconciled resolution requires a ledger movement id")
	}
	return Reconciled{ledgerID: ledgerID}, nil
}

func (Reconciled) Status() MovementStatus     { return StatusReconciled }
func (Reconciled) sealed()                    {}
func (r Reconciled) LedgerMovementID() string { return r.ledgerID }

// Confidence returns the engine score of the approved suggestion, if any.
func (r Reconciled) Confidence() (int, bool) {
	if r.confidence == nil {
		return 0, false
	}
	return *r.confidence, true
}

// Discarded records an operator decision to ignore the movement.
type Discarded struct {
	reason string
}

// NewDiscarded fails with a ValidationError when reason is blank.
func NewDiscarded(reason string) (Discarded, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Discarded{}, ValidationErrorf("discard reason is required")
	}
	return Discarded{reason: reason}, nil
}

func (Discarded) Status() MovementStatus { return StatusDiscarded }
func (Discarded) sealed()                {}
func (d Discarded) Reason() string       { return d.reason }

// LinkedLedgerID returns the ledger movement id held by a suggested or reconciled resolution.
func LinkedLedgerID(r Resolution) (string, bool) {
	switch v := r.(type) {
	case Suggested:
		return v.ledgerID, true
	case Reconciled:
		return v.ledgerID, true
	}
	return "", false
}

// ConfidenceOf returns the confidence carried by r, if any.
func ConfidenceOf(r Resolution) (int, bool) {
	switch v := r.(type) {
	case Suggested:
		return v.confidence, true
	case Reconciled:
		return v.Confidence()
	}
	return 0, false
}

// RestoreResolution rebuilds a resolution from its stored columns, rejecting rows that break
// the link invariant.
func RestoreResolution(status MovementStatus, ledgerID string, confidence *int, reason string) (Resolution, error) {
	switch status {
	case StatusPending:
		if ledgerID != "" {
			return nil, ValidationErrorf("pending movement must not carry a ledger link")
		}
		return Pending{}, nil
	case StatusSuggested:
		if confidence == nil {
			return nil, ValidationErrorf("suggested movement without confidence")
		}
		return NewSuggested(ledgerID, *confidence)
	case StatusReconciled:
		r, err := NewReconciled(ledgerID)
		if err != nil {
			return nil, err
		}
		if confidence != nil {
			c := *confidence
			r.confidence = &c
		}
		return r, nil
	case StatusDiscarded:
		if ledgerID != "" {
			return nil, ValidationErrorf("discarded movement must not carry a ledger link")
		}
		return NewDiscarded(reason)
	}
	return nil, ValidationErrorf("unknown movement status %q", status)
}

func terminalError(r Resolution, action string) error {
	return StateErrorf("cannot %s a %s movement", action, r.Status())
}

// Suggest records an engine candidate on a pending movement.
func Suggest(current Resolution, ledgerID string, confidence int) (Resolution, error) {
	if _, ok := current.(Pending); !ok {
		return nil, terminalError(current, "suggest a match for")
	}
	return NewSuggested(ledgerID, confidence)
}

// Approve promotes a suggestion to a confirmed link, keeping its score.
func Approve(current Resolution) (Resolution, error) {
	s, ok := current.(Suggested)
	if !ok {
		return nil, terminalError(current, "approve")
	}
	c := s.confidence
	return Reconciled{ledgerID: s.ledgerID, confidence: &c}, nil
}

// Reject clears a suggestion and returns the movement to pending.
func Reject(current Resolution) (Resolution, error) {
	if _, ok := current.(Suggested); !ok {
		return nil, terminalError(current, "reject")
	}
	return Pending{}, nil
}

// Discard marks a pending movement as ignored.
func Discard(current Resolution, reason string) (Resolution, error) {
	if _, ok := current.(Pending); !ok {
		return nil, terminalError(current, "discard")
	}
	return NewDiscarded(reason)
}

// LinkManually reconciles a pending movement with an operator-chosen ledger movement.
func LinkManually(current Resolution, ledgerID string) (Resolution, error) {
	if _, ok := current.(Pending); !ok {
		return nil, terminalError(current, "link")
	}
	return NewReconciled(ledgerID)
}

// StatementMovement is one tracked line of an imported statement.
type StatementMovement struct {
	ID            string
	ImportID      string
	BankAccountID string
	LineNo        int
	Date          civil.Date
	ValueDate     *civil.Date
	Concept       string
	Reference     string
	Amount        decimal.Decimal
	Direction     Direction
	Balance       *decimal.Decimal
	Resolution    Resolution
	UpdatedAt     time.Time
}

// Status returns the status of the current resolution.
func (m StatementMovement) Status() MovementStatus {
	if m.Resolution == nil {
		return StatusPending
	}
	return m.Resolution.Status()
}

type movementJSON struct {
	ID               string           `json:"id"`
	ImportID         string           `json:"import_id"`
	BankAccountID    string           `json:"bank_account_id"`
	LineNo           int              `json:"line_no"`
	Date             civil.Date       `json:"date"`
	ValueDate        *civil.Date      `json:"value_date,omitempty"`
	Concept          string           `json:"concept"`
	Reference        string           `json:"reference,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	Direction        Direction        `json:"direction"`
	Balance          *decimal.Decimal `json:"balance,omitempty"`
	Status           MovementStatus   `json:"status"`
	LedgerMovementID *string          `json:"linked_ledger_movement_id"`
	Confidence       *int             `json:"confidence,omitempty"`
	DiscardReason    string           `json:"discard_reason,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// MarshalJSON flattens the resolution into status, link, confidence and discard reason fields.
func (m StatementMovement) MarshalJSON() ([]byte, error) {
	out := movementJSON{
		ID:            m.ID,
		ImportID:      m.ImportID,
		BankAccountID: m.BankAccountID,
		LineNo:        m.LineNo,
		Date:          m.Date,
		ValueDate:     m.ValueDate,
		Concept:       m.Concept,
		Reference:     m.Reference,
		Amount:        m.Amount,
		Direction:     m.Direction,
		Balance:       m.Balance,
		Status:        m.Status(),
		UpdatedAt:     m.UpdatedAt,
	}
	if id, ok := LinkedLedgerID(m.Resolution); ok {
		out.LedgerMovementID = &id
	}
	if c, ok := ConfidenceOf(m.Resolution); ok {
		out.Confidence = &c
	}
	if d, ok := m.Resolution.(Discarded); ok {
		out.DiscardReason = d.reason
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the flattened form produced by MarshalJSON.
func (m *StatementMovement) UnmarshalJSON(data []byte) error {
	var in movementJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ledgerID := ""
	if in.LedgerMovementID != nil {
		ledgerID = *in.LedgerMovementID
	}
	status := in.Status
	if status == "" {
		status = StatusPending
	}
	res, err := RestoreResolution(status, ledgerID, in.Confidence, in.DiscardReason)
	if err != nil {
		return err
	}
	*m = StatementMovement{
		ID:            in.ID,
		ImportID:      in.ImportID,
		BankAccountID: in.BankAccountID,
		LineNo:        in.LineNo,
		Date:          in.Date,
		ValueDate:     in.ValueDate,
		Concept:       in.Concept,
		Reference:     in.Reference,
		Amount:        in.Amount,
		Direction:     in.Direction,
		Balance:       in.Balance,
		Resolution:    res,
		UpdatedAt:     in.UpdatedAt,
	}
	return nil
}
