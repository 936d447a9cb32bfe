// Package events publishes reconciliation domain events to external subscribers.
package events

import (
	"context"
	"errors"
	"time"
)

// Type names a domain event.
type Type string

const (
	ImportCreated      Type = "import.created"
	ImportMatched      Type = "import.matched"
	ImportFinalized    Type = "import.finalized"
	MovementSuggested  Type = "movement.suggested"
	MovementReconciled Type = "movement.reconciled"
	MovementRejected   Type = "movement.rejected"
	MovementDiscarded  Type = "movement.discarded"
)

// Event is one state change. Movement fields are empty for import-level events.
type Event struct {
	Type             Type                   `json:"event_type"`
	ImportID         string                 `json:"import_id"`
	BankAccountID    string                 `json:"bank_account_id,omitempty"`
	MovementID       string                 `json:"movement_id,omitempty"`
	LedgerMovementID string                 `json:"ledger_movement_id,omitempty"`
	Status           string                 `json:"status,omitempty"`
	Confidence       *int                   `json:"confidence,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt       time.Time              `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = Nop{}
	_ Publisher = Multi(nil)
)
