package reconcile

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/events"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// loadForTransition returns the movement and rejects changes to completed imports before any
// ledger write happens. The store re-checks both under its own lock.
func (s *Service) loadForTransition(ctx context.Context, movementID string) (domain.StatementMovement, error) {
	m, err := s.store.GetMovement(ctx, movementID)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	imp, err := s.store.GetImport(ctx, m.ImportID)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	if imp.Completed() {
		return domain.StatementMovement{}, domain.StateErrorf("import %s is completed", imp.ID)
	}
	return m, nil
}

// Approve confirms the suggested candidate of a movement and marks the ledger movement reconciled.
func (s *Service) Approve(ctx context.Context, movementID string) (domain.StatementMovement, error) {
	m, err := s.loadForTransition(ctx, movementID)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	next, err := domain.Approve(m.Resolution)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	ledgerID, _ := domain.LinkedLedgerID(next)

	updated, err := s.linkAndUpdate(ctx, m, domain.StatusSuggested, ledgerID, next)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	s.publish(ctx, movementEvent(events.MovementReconciled, updated))
	return updated, nil
}

// LinkManually reconciles a pending movement with an operator-chosen ledger movement of the
// same bank account and direction.
func (s *Service) LinkManually(ctx context.Context, movementID, ledgerID string) (domain.StatementMovement, error) {
	ledgerID = strings.TrimSpace(ledgerID)
	m, err := s.loadForTransition(ctx, movementID)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	next, err := domain.LinkManually(m.Resolution, ledgerID)
	if err != nil {
		return domain.StatementMovement{}, err
	}

	l, err := s.ledger.GetMovement(ctx, ledgerID)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	if l.BankAccountID != m.BankAccountID {
		return domain.StatementMovement{}, domain.ValidationErrorf("ledger movement %s belongs to bank account %s, not %s",
			l.ID, l.BankAccountID, m.BankAccountID)
	}
	if l.Direction != m.Direction {
		return domain.StatementMovement{}, domain.ValidationErrorf("ledger movement %s is a %s, statement movement is a %s",
			l.ID, l.Direction, m.Direction)
	}
	if l.Linked() && l.LinkedStatementMovementID != m.ID {
		return domain.StatementMovement{}, domain.ConflictErrorf("ledger movement %s is already reconciled with %s",
			l.ID, l.LinkedStatementMovementID)
	}

	updated, err := s.linkAndUpdate(ctx, m, domain.StatusPending, ledgerID, next)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	s.publish(ctx, movementEvent(events.MovementReconciled, updated))
	return updated, nil
}

// linkAndUpdate claims the ledger movement, then moves the statement movement to reconciled.
// Only the call that claimed the link may release it when the second step fails, and only
// while the movement is not reconciled with that ledger movement by a concurrent call.
func (s *Service) linkAndUpdate(ctx context.Context, m domain.StatementMovement, expected domain.MovementStatus, ledgerID string, next domain.Resolution) (domain.StatementMovement, error) {
	log := s.log.With().
		Str("import_id", m.ImportID).
		Str("movement_id", m.ID).
		Str("ledger_movement_id", ledgerID).
		Logger()

	claimed, err := s.ledger.MarkReconciled(ctx, ledgerID, m.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyLinked) {
			return domain.StatementMovement{}, domain.ConflictErrorf("ledger movement %s is already reconciled with another statement movement", ledgerID).Wrap(err)
		}
		return domain.StatementMovement{}, err
	}

	updated, err := s.store.UpdateResolution(ctx, m.ID, expected, next, s.now().UTC())
	if err != nil {
		if claimed {
			s.releaseLedger(ctx, m.ID, ledgerID, log)
		}
		return domain.StatementMovement{}, err
	}

	if !claimed {
		// The claiming call may have released the link after losing the store update.
		if _, err := s.ledger.MarkReconciled(ctx, ledgerID, m.ID); err != nil {
			log.Error().Err(err).Msg("Failed to confirm ledger link after reconciliation")
		}
	}

	log.Info().Str("status", string(updated.Status())).Msg("Movement reconciled")
	return updated, nil
}

func (s *Service) releaseLedger(ctx context.Context, movementID, ledgerID string, log zerolog.Logger) {
	current, err := s.store.GetMovement(ctx, movementID)
	if err == nil {
		if linked, ok := domain.LinkedLedgerID(current.Resolution); ok && linked == ledgerID && current.Status() == domain.StatusReconciled {
			log.Info().Msg("Movement reconciled by a concurrent call, keeping ledger link")
			return
		}
	}
	if err := s.ledger.UnmarkReconciled(ctx, ledgerID, movementID); err != nil {
		log.Error().Err(err).Msg("Failed to release ledger link after rejected transition")
	}
}

// Reject clears a suggestion and returns the movement to pending.
func (s *Service) Reject(ctx context.Context, movementID string) (domain.StatementMovement, error) {
	m, err := s.loadForTransition(ctx, movementID)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	rejectedLedger, _ := domain.LinkedLedgerID(m.Resolution)
	next, err := domain.Reject(m.Resolution)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	updated, err := s.store.UpdateResolution(ctx, m.ID, domain.StatusSuggested, next, s.now().UTC())
	if err != nil {
		return domain.StatementMovement{}, err
	}

	s.log.Info().
		Str("import_id", m.ImportID).
		Str("movement_id", m.ID).
		Str("ledger_movement_id", rejectedLedger).
		Msg("Suggestion rejected")
	ev := movementEvent(events.MovementRejected, updated)
	ev.LedgerMovementID = rejectedLedger
	s.publish(ctx, ev)
	return updated, nil
}

// Discard marks a pending movement as ignored. reason is mandatory.
func (s *Service) Discard(ctx context.Context, movementID, reason string) (domain.StatementMovement, error) {
	m, err := s.loadForTransition(ctx, movementID)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	next, err := domain.Discard(m.Resolution, reason)
	if err != nil {
		return domain.StatementMovement{}, err
	}
	updated, err := s.store.UpdateResolution(ctx, m.ID, domain.StatusPending, next, s.now().UTC())
	if err != nil {
		return domain.StatementMovement{}, err
	}

	s.log.Info().
		Str("import_id", m.ImportID).
		Str("movement_id", m.ID).
		Str("status", string(updated.Status())).
		Msg("Movement discarded")
	ev := movementEvent(events.MovementDiscarded, updated)
	ev.Metadata = map[string]interface{}{"reason": strings.TrimSpace(reason)}
	s.publish(ctx, ev)
	return updated, nil
}

// CandidateSearch describes a manual candidate lookup.
type CandidateSearch struct {
	BankAccountID string
	Direction     domain.Direction
	Amount        decimal.Decimal
	Date          civil.Date
	// Concept is optional and only affects the displayed score.
	Concept string
}

// SearchCandidates lists unreconciled ledger movements for manual linking, using the wider
// manual window and relative tolerance, ordered by date proximity.
func (s *Service) SearchCandidates(ctx context.Context, q CandidateSearch) ([]Candidate, error) {
	if strings.TrimSpace(q.BankAccountID) == "" {
		return nil, domain.ValidationErrorf("bank_account_id is required")
	}
	if q.Direction != domain.DirectionCredit && q.Direction != domain.DirectionDebit {
		return nil, domain.ValidationErrorf("direction must be credit or debit")
	}
	if q.Amount.IsNegative() {
		return nil, domain.ValidationErrorf("amount must be non-negative")
	}
	if !q.Date.IsValid() {
		return nil, domain.ValidationErrorf("date is required")
	}
	if _, err := s.accounts.ResolveBankAccount(ctx, q.BankAccountID); err != nil {
		return nil, err
	}

	in := scoreInput{
		amount:    q.Amount,
		date:      q.Date,
		concept:   q.Concept,
		tolerance: s.cfg.manualTolerance(q.Amount),
		window:    s.cfg.ManualDateWindowDays,
	}
	cands, err := s.candidates(ctx, q.BankAccountID, q.Direction, in)
	if err != nil {
		return nil, err
	}
	rankForSearch(cands)
	return cands, nil
}
