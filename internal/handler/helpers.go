package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"go.uber.org/zap"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string              `json:"error"`
	Field   string              `json:"field,omitempty"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
	Missing []string            `json:"missing,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var plateNotFound *domain.ErrPlateNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService
	var validation *domain.ErrValidation
	var incomplete *domain.ErrIncompleteDeclaration
	var paymentFields *domain.ErrPaymentFieldsMissing
	var transition *domain.ErrInvalidTransition
	var busy *domain.ErrSessionBusy
	var unauthorized *domain.ErrUnauthorized

	switch {
	case errors.As(err, &incomplete):
		logger.Debug("declaration incomplete", zap.Int("fields", len(incomplete.Fields)))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Fields: incomplete.Fields})
	case errors.As(err, &paymentFields):
		logger.Debug("payment fields missing", zap.Strings("missing", paymentFields.Fields))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Missing: paymentFields.Fields})
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Field: validation.Field})
	case errors.As(err, &plateNotFound):
		logger.Debug("plate not found", zap.String("plate", plateNotFound.Plate))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &transition):
		logger.Debug("invalid transition", zap.String("action", transition.Action), zap.Stringer("step", transition.Step))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &busy):
		logger.Warn("session busy", zap.String("session_id", busy.SessionID))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
