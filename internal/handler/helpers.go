package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

// maxJSONBody bounds JSON request payloads.
const maxJSONBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"campo,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// claimFilter reads cliente_id, status and q from the query string.
func claimFilter(r *http.Request) (domain.ClaimFilter, error) {
	q := r.URL.Query()
	status, err := domain.ParseClaimStatus(q.Get("status"))
	if err != nil {
		return domain.ClaimFilter{}, err
	}
	return domain.ClaimFilter{
		ClientID: q.Get("cliente_id"),
		Status:   status,
		Search:   q.Get("q"),
	}, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var confirmation *domain.ErrConfirmation
	var store *domain.ErrStore

	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Message, Field: validation.Field})
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &confirmation):
		logger.Warn("reset without confirmation", zap.String("path", r.URL.Path))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &store):
		span.SetStatus(codes.Error, "store unavailable")
		logger.Error("store unavailable", zap.String("operation", store.Op), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
	default:
		span.SetStatus(codes.Error, err.Error())
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
