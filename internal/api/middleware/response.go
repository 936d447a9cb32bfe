package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dvloznov/reconciler/internal/domain"
)

// Envelope wraps every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// Kinds reported for failures that are not business rule violations.
const (
	KindInternal          = "internal_error"
	KindLedgerUnavailable = "ledger_unavailable"
	KindMatchingAborted   = "matching_aborted"
)

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteData writes a successful envelope.
func WriteData(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, Envelope{Success: true, Data: data})
}

// WriteError writes a failed envelope with a message of the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	kind := KindInternal
	switch {
	case status == http.StatusNotFound:
		kind = string(domain.KindNotFound)
	case status < http.StatusInternalServerError:
		kind = string(domain.KindValidation)
	}
	WriteJSON(w, status, Envelope{Error: &ErrorBody{Kind: kind, Message: message}})
}

// WriteFailure writes a failed envelope that still carries data, such as partial results.
func WriteFailure(w http.ResponseWriter, status int, kind, message string, data interface{}) {
	WriteJSON(w, status, Envelope{Data: data, Error: &ErrorBody{Kind: kind, Message: message}})
}

// WriteDomainError maps err to a status and writes it. Errors without a kind are reported
// as internal without exposing their text.
func WriteDomainError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		WriteJSON(w, http.StatusInternalServerError, Envelope{Error: &ErrorBody{
			Kind:    KindInternal,
			Message: "Internal server error",
		}})
		return
	}
	WriteJSON(w, StatusFor(de.Kind), Envelope{Error: &ErrorBody{
		Kind:    string(de.Kind),
		Message: de.Message,
		Line:    de.Line,
	}})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindParse, domain.KindImport:
		return http.StatusUnprocessableEntity
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState, domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
