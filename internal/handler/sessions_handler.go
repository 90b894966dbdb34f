package handler

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type sessionHandlers struct {
	wizard   *service.Wizard
	sessions *service.SessionManager
	auth     *service.AuthService
	logger   *zap.Logger
}

// sessionView is the JSON shape of a session.
type sessionView struct {
	*domain.Session
	StepName    string              `json:"stepName"`
	FieldErrors []domain.FieldError `json:"fieldErrors,omitempty"`
}

func viewOf(s *domain.Session) sessionView {
	return sessionView{Session: s, StepName: s.Step.String(), FieldErrors: s.FieldErrors()}
}

type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, s *domain.Session)

// acquired claims the session named in the URL for the duration of the
// request. Sessions owned by another operator look like unknown ones.
func (h *sessionHandlers) acquired(fn sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionId")
		s, release, err := h.sessions.Acquire(id)
		if err != nil {
			handleServiceError(w, err, h.logger)
			return
		}
		defer release()

		if !h.owns(r, s) {
			handleServiceError(w, &domain.ErrNotFound{Resource: "session", ID: id}, h.logger)
			return
		}
		fn(w, r, s)
	}
}

// viewed hands fn the session as of its last completed request without
// claiming it. fn must only read.
func (h *sessionHandlers) viewed(fn sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionId")
		s, err := h.sessions.View(id)
		if err != nil {
			handleServiceError(w, err, h.logger)
			return
		}
		if !h.owns(r, s) {
			handleServiceError(w, &domain.ErrNotFound{Resource: "session", ID: id}, h.logger)
			return
		}
		fn(w, r, s)
	}
}

func (h *sessionHandlers) owns(r *http.Request, s *domain.Session) bool {
	opID := OperatorIDFromContext(r.Context())
	if opID == "" || s.Operator == nil {
		return true
	}
	return s.Operator.ID == opID
}

func (h *sessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "POST /v1/sessions")
	defer span.End()

	var op *domain.Operator
	if opID := OperatorIDFromContext(ctx); opID != "" && h.auth != nil {
		var err error
		op, err = h.auth.Operator(ctx, opID)
		if err != nil {
			handleServiceError(w, err, h.logger)
			return
		}
	}

	s := h.sessions.Create(op)
	span.SetAttributes(attribute.String("session.id", s.ID))
	writeJSON(w, http.StatusCreated, viewOf(s))
}

func (h *sessionHandlers) discard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	s, release, err := h.sessions.Acquire(id)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	owned := h.owns(r, s)
	release()
	if !owned {
		handleServiceError(w, &domain.ErrNotFound{Resource: "session", ID: id}, h.logger)
		return
	}
	if err := h.sessions.Delete(id); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *sessionHandlers) view(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	writeJSON(w, http.StatusOK, viewOf(s))
}

type identifyRequest struct {
	TaxpayerID string `json:"taxpayerId"`
}

func (h *sessionHandlers) identify(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	var req identifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.wizard.Identify(r.Context(), s, req.TaxpayerID); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *sessionHandlers) taxTypes(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	if s.Step < domain.StepTaxSelection {
		handleServiceError(w, &domain.ErrInvalidTransition{Step: s.Step, Action: "list_tax_types"}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, s.TaxTypes)
}

type selectTaxTypeRequest struct {
	TaxTypeID        string `json:"taxTypeId"`
	DeclarationCount int    `json:"declarationCount"`
}

func (h *sessionHandlers) selectTaxType(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	req := selectTaxTypeRequest{DeclarationCount: 1}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.wizard.SelectTaxType(r.Context(), s, req.TaxTypeID, req.DeclarationCount); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

type plateLookupRequest struct {
	Plate string `json:"plate"`
}

func (h *sessionHandlers) lookupPlate(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	var req plateLookupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.wizard.LookupPlate(r.Context(), s, req.Plate); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// setFieldsRequest carries either one path/value pair or a values map.
type setFieldsRequest struct {
	Path   string         `json:"path"`
	Value  any            `json:"value"`
	Values map[string]any `json:"values"`
}

func (h *sessionHandlers) setFields(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "form index must be an integer")
		return
	}

	var req setFieldsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	values := req.Values
	if values == nil {
		values = map[string]any{}
	}
	if req.Path != "" {
		values[req.Path] = req.Value
	}
	if len(values) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	updates := make([]service.FieldUpdate, 0, len(values))
	for path, v := range values {
		str, err := domain.ScalarString(v)
		if err != nil {
			handleServiceError(w, &domain.ErrValidation{Field: path, Message: err.Error()}, h.logger)
			return
		}
		updates = append(updates, service.FieldUpdate{Form: index, Path: path, Value: str})
	}

	if err := h.wizard.SetFields(s, updates); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *sessionHandlers) submit(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	if err := h.wizard.Submit(r.Context(), s); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *sessionHandlers) deleteDeclaration(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	if err := h.wizard.DeleteDeclaration(r.Context(), s); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *sessionHandlers) pay(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	var req service.PaymentInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payment, err := h.wizard.Pay(r.Context(), s, req)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *sessionHandlers) receipt(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" || format == "json" {
		receipt, err := h.wizard.Receipt(r.Context(), s)
		if err != nil {
			handleServiceError(w, err, h.logger)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
		return
	}

	var buf bytes.Buffer
	if err := h.wizard.RenderReceipt(r.Context(), s, format, &buf); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeDocument(w, format, s.Declaration.Reference, &buf)
}

func (h *sessionHandlers) print(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = service.FormatHTML
	}
	reference := ""
	if s.Declaration != nil {
		reference = s.Declaration.Reference
	}

	var buf bytes.Buffer
	completed, err := h.wizard.Print(r.Context(), s, format, &buf)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.Header().Set("X-Transaction-Completed", strconv.FormatBool(completed))
	writeDocument(w, format, reference, &buf)
}

func (h *sessionHandlers) reset(w http.ResponseWriter, r *http.Request, s *domain.Session) {
	h.wizard.Reset(s)
	writeJSON(w, http.StatusOK, viewOf(s))
}

func writeDocument(w http.ResponseWriter, format, reference string, buf *bytes.Buffer) {
	switch format {
	case service.FormatPDF:
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="receipt-`+reference+`.pdf"`)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
