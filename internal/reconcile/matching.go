package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/events"
	"github.com/shopspring/decimal"
)

// Suggestion is one movement the engine moved to suggested.
type Suggestion struct {
	Movement         domain.StatementMovement `json:"movement"`
	LedgerMovementID string                   `json:"ledger_movement_id"`
	Confidence       int                      `json:"confidence"`
	Breakdown        Breakdown                `json:"breakdown"`
}

// MatchResult summarizes one matching run.
type MatchResult struct {
	ImportID    string       `json:"import_id"`
	Suggestions []Suggestion `json:"suggestions"`
	// Skipped holds movements whose lookup failed or whose status changed during the run.
	Skipped []string `json:"skipped"`
	// Unmatched counts movements left pending because no candidate reached the floor.
	Unmatched int `json:"unmatched"`
	Processed int `json:"processed"`
}

// MatchAbortedError reports a run stopped by a systemic failure. Suggestions applied before
// the failure are kept and listed in Partial.
type MatchAbortedError struct {
	ImportID    string
	Processed   []string
	Unprocessed []string
	Partial     MatchResult
	Err         error
}

// AbortReport is the client-facing account of an aborted run.
type AbortReport struct {
	ImportID          string       `json:"import_id"`
	LedgerUnavailable bool         `json:"ledger_unavailable"`
	Suggestions       []Suggestion `json:"suggestions"`
	Skipped           []string     `json:"skipped"`
	Unmatched         int          `json:"unmatched"`
	Processed         []string     `json:"processed"`
	Unprocessed       []string     `json:"unprocessed"`
}

// Report lists which movements were and were not processed before the abort.
func (e *MatchAbortedError) Report() AbortReport {
	r := AbortReport{
		ImportID:          e.ImportID,
		LedgerUnavailable: errors.Is(e.Err, domain.ErrLedgerUnavailable),
		Suggestions:       e.Partial.Suggestions,
		Skipped:           e.Partial.Skipped,
		Unmatched:         e.Partial.Unmatched,
		Processed:         e.Processed,
		Unprocessed:       e.Unprocessed,
	}
	if r.Suggestions == nil {
		r.Suggestions = []Suggestion{}
	}
	if r.Skipped == nil {
		r.Skipped = []string{}
	}
	return r
}

func (e *MatchAbortedError) Error() string {
	return fmt.Sprintf("matching of import %s aborted after %d of %d movements: %v",
		e.ImportID, len(e.Processed), len(e.Processed)+len(e.Unprocessed), e.Err)
}

func (e *MatchAbortedError) Unwrap() error {
	return e.Err
}

// RunMatching scores every pending movement of an import against the ledger and suggests the
// best candidate at or above the confidence floor. Each suggestion is applied with its own
// compare-and-set, so re-running never touches movements that are no longer pending.
func (s *Service) RunMatching(ctx context.Context, importID string) (MatchResult, error) {
	imp, err := s.GetImport(ctx, importID)
	if err != nil {
		return MatchResult{}, err
	}
	if imp.Completed() {
		return MatchResult{}, domain.StateErrorf("import %s is completed", importID)
	}

	pending, _, err := s.store.ListMovements(ctx, domain.MovementFilter{ImportID: importID, Status: domain.StatusPending})
	if err != nil {
		return MatchResult{}, err
	}
	suggested, err := s.store.SuggestedLedgerIDs(ctx, imp.BankAccountID)
	if err != nil {
		return MatchResult{}, err
	}

	result := MatchResult{ImportID: importID, Suggestions: []Suggestion{}, Skipped: []string{}}
	processed := make([]string, 0, len(pending))
	abort := func(i int, cause error) (MatchResult, error) {
		unprocessed := make([]string, 0, len(pending)-i)
		for _, m := range pending[i:] {
			unprocessed = append(unprocessed, m.ID)
		}
		s.log.Error().Err(cause).
			Str("import_id", importID).
			Int("processed", len(processed)).
			Int("unprocessed", len(unprocessed)).
			Msg("Matching aborted")
		result.Processed = len(processed)
		return result, &MatchAbortedError{
			ImportID:    importID,
			Processed:   processed,
			Unprocessed: unprocessed,
			Partial:     result,
			Err:         cause,
		}
	}

	for i, m := range pending {
		if err := ctx.Err(); err != nil {
			return abort(i, err)
		}

		best, ok, err := s.bestCandidate(ctx, m, suggested)
		if err != nil {
			if errors.Is(err, domain.ErrLedgerUnavailable) || ctx.Err() != nil {
				return abort(i, err)
			}
			s.log.Warn().Err(err).Str("movement_id", m.ID).Msg("Candidate lookup failed, leaving movement pending")
			result.Skipped = append(result.Skipped, m.ID)
			processed = append(processed, m.ID)
			continue
		}
		if !ok || best.Breakdown.Score < s.cfg.ConfidenceFloor {
			result.Unmatched++
			processed = append(processed, m.ID)
			continue
		}

		next, err := domain.Suggest(m.Resolution, best.Ledger.ID, best.Breakdown.Score)
		if err != nil {
			return abort(i, err)
		}
		updated, err := s.store.UpdateResolution(ctx, m.ID, domain.StatusPending, next, s.now().UTC())
		if err != nil {
			if domain.KindOf(err) != "" {
				// Resolved by an operator since the pending list was read.
				s.log.Info().Err(err).Str("movement_id", m.ID).Msg("Movement changed during matching, skipped")
				result.Skipped = append(result.Skipped, m.ID)
				processed = append(processed, m.ID)
				continue
			}
			return abort(i, err)
		}

		suggested[best.Ledger.ID]++
		processed = append(processed, m.ID)
		result.Suggestions = append(result.Suggestions, Suggestion{
			Movement:         updated,
			LedgerMovementID: best.Ledger.ID,
			Confidence:       best.Breakdown.Score,
			Breakdown:        best.Breakdown,
		})
		s.log.Info().
			Str("import_id", importID).
			Str("movement_id", m.ID).
			Str("ledger_movement_id", best.Ledger.ID).
			Int("confidence", best.Breakdown.Score).
			Msg("Match suggested")
		s.publish(ctx, movementEvent(events.MovementSuggested, updated))
	}
	result.Processed = len(processed)

	s.log.Info().
		Str("import_id", importID).
		Int("pending", len(pending)).
		Int("suggested", len(result.Suggestions)).
		Int("unmatched", result.Unmatched).
		Int("skipped", len(result.Skipped)).
		Msg("Matching run finished")
	s.publish(ctx, events.Event{
		Type:          events.ImportMatched,
		ImportID:      importID,
		BankAccountID: imp.BankAccountID,
		Metadata: map[string]interface{}{
			"suggested": len(result.Suggestions),
			"unmatched": result.Unmatched,
			"skipped":   len(result.Skipped),
		},
	})
	return result, nil
}

// bestCandidate returns the top ranked ledger candidate for m, if any.
func (s *Service) bestCandidate(ctx context.Context, m domain.StatementMovement, suggested map[string]int) (Candidate, bool, error) {
	in := scoreInput{
		amount:    m.Amount,
		date:      m.Date,
		concept:   m.Concept,
		tolerance: s.cfg.AmountTolerance,
		window:    s.cfg.DateWindowDays,
	}
	cands, err := s.candidates(ctx, m.BankAccountID, m.Direction, in)
	if err != nil {
		return Candidate{}, false, err
	}
	if len(cands) == 0 {
		return Candidate{}, false, nil
	}
	for i := range cands {
		cands[i].SuggestedElsewhere = suggested[cands[i].Ledger.ID] > 0
	}
	rankForMatching(cands)
	return cands[0], true, nil
}

// candidates queries the ledger around in and scores every unlinked result.
func (s *Service) candidates(ctx context.Context, bankAccountID string, dir domain.Direction, in scoreInput) ([]Candidate, error) {
	minAmount := in.amount.Sub(in.tolerance)
	if minAmount.IsNegative() {
		minAmount = decimal.Zero
	}
	q := domain.CandidateQuery{
		BankAccountID: bankAccountID,
		Direction:     dir,
		MinAmount:     minAmount,
		MaxAmount:     in.amount.Add(in.tolerance),
		From:          in.date.AddDays(-in.window),
		To:            in.date.AddDays(in.window),
	}
	found, err := s.ledger.FindCandidateMovements(ctx, q)
	if err != nil {
		return nil, err
	}

	cands := make([]Candidate, 0, len(found))
	for _, l := range found {
		if l.Linked() || l.BankAccountID != bankAccountID || l.Direction != dir {
			continue
		}
		cands = append(cands, Candidate{
			Ledger:           l,
			Breakdown:        score(in, l),
			DateDistance:     daysBetween(in.date, l.Date),
			AmountDifference: in.amount.Sub(l.Amount).Abs(),
		})
	}
	return cands, nil
}
