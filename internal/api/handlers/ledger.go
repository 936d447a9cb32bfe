package handlers

import (
	"net/http"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/api/middleware"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LedgerHandler serves manual candidate search.
type LedgerHandler struct {
	svc Reconciler
	log zerolog.Logger
}

func NewLedgerHandler(svc Reconciler, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, log: log}
}

// SearchCandidates handles GET /api/ledger/candidates
func (h *LedgerHandler) SearchCandidates(w http.ResponseWriter, r *http.Request) {
	q, err := parseCandidateSearch(r)
	if err != nil {
		writeServiceError(w, r, h.log, "SearchCandidates", err)
		return
	}

	cands, err := h.svc.SearchCandidates(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.log, "SearchCandidates", err)
		return
	}
	if cands == nil {
		cands = []reconcile.Candidate{}
	}
	middleware.WriteData(w, http.StatusOK, map[string]interface{}{
		"candidates": cands,
		"count":      len(cands),
	})
}

func parseCandidateSearch(r *http.Request) (reconcile.CandidateSearch, error) {
	query := r.URL.Query()

	dir, err := domain.ParseDirection(query.Get("direction"))
	if err != nil {
		return reconcile.CandidateSearch{}, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(query.Get("amount")))
	if err != nil {
		return reconcile.CandidateSearch{}, domain.ValidationErrorf("invalid amount %q", query.Get("amount"))
	}
	date, err := civil.ParseDate(strings.TrimSpace(query.Get("date")))
	if err != nil {
		return reconcile.CandidateSearch{}, domain.ValidationErrorf("invalid date %q, want YYYY-MM-DD", query.Get("date"))
	}

	return reconcile.CandidateSearch{
		BankAccountID: query.Get("bank_account_id"),
		Direction:     dir,
		Amount:        amount,
		Date:          date,
		Concept:       query.Get("concept"),
	}, nil
}
