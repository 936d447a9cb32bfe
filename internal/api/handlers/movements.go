package handlers

import (
	"net/http"

	"github.com/dvloznov/reconciler/internal/api/middleware"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MovementsHandler handles the operator actions on statement movements.
type MovementsHandler struct {
	svc Reconciler
	log zerolog.Logger
}

func NewMovementsHandler(svc Reconciler, log zerolog.Logger) *MovementsHandler {
	return &MovementsHandler{svc: svc, log: log}
}

// GetMovement handles GET /api/movements/{movementID}
func (h *MovementsHandler) GetMovement(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMovement(r.Context(), chi.URLParam(r, "movementID"))
	h.respond(w, r, "GetMovement", m, err)
}

// Approve handles POST /api/movements/{movementID}/approve
func (h *MovementsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Approve(r.Context(), chi.URLParam(r, "movementID"))
	h.respond(w, r, "Approve", m, err)
}

// Reject handles POST /api/movements/{movementID}/reject
func (h *MovementsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Reject(r.Context(), chi.URLParam(r, "movementID"))
	h.respond(w, r, "Reject", m, err)
}

// Discard handles POST /api/movements/{movementID}/discard
func (h *MovementsHandler) Discard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.respond(w, r, "Discard", domain.StatementMovement{}, err)
		return
	}
	m, err := h.svc.Discard(r.Context(), chi.URLParam(r, "movementID"), body.Reason)
	h.respond(w, r, "Discard", m, err)
}

// Link handles POST /api/movements/{movementID}/link
func (h *MovementsHandler) Link(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LedgerMovementID string `json:"ledger_movement_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.respond(w, r, "Link", domain.StatementMovement{}, err)
		return
	}
	m, err := h.svc.LinkManually(r.Context(), chi.URLParam(r, "movementID"), body.LedgerMovementID)
	h.respond(w, r, "Link", m, err)
}

func (h *MovementsHandler) respond(w http.ResponseWriter, r *http.Request, op string, m domain.StatementMovement, err error) {
	if err != nil {
		writeServiceError(w, r, h.log, op, err)
		return
	}
	middleware.WriteData(w, http.StatusOK, m)
}
