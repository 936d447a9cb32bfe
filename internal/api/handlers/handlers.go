// Package handlers implements the reconciliation HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dvloznov/reconciler/internal/api/middleware"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/rs/zerolog"
)

// MaxUploadBytes caps the size of an uploaded statement.
const MaxUploadBytes = 10 << 20

// Reconciler is the engine surface served over HTTP.
type Reconciler interface {
	CreateImport(ctx context.Context, req reconcile.ImportRequest) (domain.StatementImport, error)
	GetImport(ctx context.Context, importID string) (domain.StatementImport, error)
	ListImports(ctx context.Context, bankAccountID string) ([]domain.StatementImport, error)
	ListMovements(ctx context.Context, importID string, status domain.MovementStatus, page, pageSize int) (reconcile.MovementPage, error)
	GetMovement(ctx context.Context, movementID string) (domain.StatementMovement, error)
	FinalizeImport(ctx context.Context, importID string) (domain.StatementImport, error)
	RunMatching(ctx context.Context, importID string) (reconcile.MatchResult, error)
	Approve(ctx context.Context, movementID string) (domain.StatementMovement, error)
	Reject(ctx context.Context, movementID string) (domain.StatementMovement, error)
	Discard(ctx context.Context, movementID, reason string) (domain.StatementMovement, error)
	LinkManually(ctx context.Context, movementID, ledgerID string) (domain.StatementMovement, error)
	SearchCandidates(ctx context.Context, q reconcile.CandidateSearch) ([]reconcile.Candidate, error)
}

var _ Reconciler = (*reconcile.Service)(nil)

// writeServiceError logs infrastructure failures and writes the mapped response.
func writeServiceError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, op string, err error) {
	if domain.KindOf(err) == "" {
		log.Error().Err(err).
			Str("op", op).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("Request failed")
	}
	middleware.WriteDomainError(w, err)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxUploadBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.ValidationErrorf("invalid request body: %v", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, domain.ValidationErrorf("%s must be an integer, got %q", key, s)
	}
	return n, nil
}
