// Package service implements the portal's wizard: identification, tax type
// selection, declaration entry, then summary and payment.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/wizard")

// Assistant operations, as reported in metrics.
const (
	aiPrefill  = "prefill"
	aiValidate = "validate"
	aiAmount   = "amount"
	aiPlate    = "plate_match"
)

// Receipt output formats.
const (
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

// Deps are the collaborators of a Wizard. Assistant and Notifier may be nil.
type Deps struct {
	Taxpayers    port.TaxpayerVerifier
	TaxTypes     port.TaxTypeProvider
	Declarations port.DeclarationStore
	Assistant    port.Assistant
	Payments     port.PaymentProcessor
	Notifier     port.PaymentNotifier
	Renderer     port.ReceiptRenderer
}

// Options tune a Wizard.
type Options struct {
	MaxDeclarations int
	UnitAmount      decimal.Decimal
	Issuer          string
	Now             func() time.Time
}

// FieldUpdate sets one value of one declaration form.
type FieldUpdate struct {
	Form  int    `json:"form"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// PaymentInput is what the operator enters in the payment dialog.
type PaymentInput struct {
	Method    domain.PaymentMethod `json:"method"`
	Penalties decimal.Decimal      `json:"penalties"`
	Fields    map[string]string    `json:"fields"`
}

// Wizard drives sessions through the declaration steps. It holds no session
// state itself; callers pass the session they have acquired.
type Wizard struct {
	deps      Deps
	opts      Options
	validator *LocalValidator
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewWizard creates a wizard.
func NewWizard(deps Deps, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Wizard {
	if opts.MaxDeclarations <= 0 {
		opts.MaxDeclarations = 50
	}
	if opts.UnitAmount.IsZero() {
		opts.UnitAmount = DefaultUnitAmount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Wizard{
		deps:      deps,
		opts:      opts,
		validator: NewLocalValidator(),
		metrics:   metrics,
		logger:    logger,
	}
}

// Identify verifies the taxpayer (by NIF or phone) and moves 1→2. The tax
// type list and the taxpayer's past declarations load concurrently.
func (w *Wizard) Identify(ctx context.Context, s *domain.Session, taxpayerID string) error {
	ctx, span := tracer.Start(ctx, "Wizard.Identify")
	defer span.End()
	defer w.observe("identify", time.Now())

	if err := w.require(s, "identify", domain.StepIdentification); err != nil {
		return err
	}
	taxpayerID = strings.TrimSpace(taxpayerID)
	if taxpayerID == "" {
		return w.fail(s, &domain.ErrValidation{Field: "taxpayerId", Message: "enter a NIF or phone number"})
	}
	span.SetAttributes(attribute.String("taxpayer.id", taxpayerID))
	s.Completed = false

	tp, err := w.deps.Taxpayers.VerifyTaxpayer(ctx, taxpayerID)
	if err != nil {
		w.countExternal(err, "taxpayers")
		return w.fail(s, fmt.Errorf("verify taxpayer: %w", err))
	}

	var (
		types   []domain.TaxType
		history []domain.Declaration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		types, err = w.deps.TaxTypes.GetTaxTypes(gctx)
		if err != nil {
			w.countExternal(err, "tax_types")
			return fmt.Errorf("get tax types: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		history, err = w.deps.Declarations.ListDeclarationsByTaxpayer(gctx, tp.ID)
		if err != nil {
			// History only serves the plate lookup.
			w.countExternal(err, "declarations")
			w.logger.Warn("declaration history unavailable",
				zap.String("session_id", s.ID),
				zap.String("taxpayer_id", tp.ID),
				zap.Error(err),
			)
			history = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return w.fail(s, err)
	}

	s.Taxpayer = tp
	s.TaxTypes = types
	s.History = history
	w.advance(s, domain.StepTaxSelection)
	return nil
}

// SelectTaxType picks the tax type and the number of declarations. A
// reproduction type forces one declaration and waits for LookupPlate;
// any other type moves 2→3 and pre-fills the forms.
func (w *Wizard) SelectTaxType(ctx context.Context, s *domain.Session, taxTypeID string, count int) error {
	ctx, span := tracer.Start(ctx, "Wizard.SelectTaxType")
	defer span.End()
	defer w.observe("select_tax_type", time.Now())

	if err := w.require(s, "select_tax_type", domain.StepTaxSelection); err != nil {
		return err
	}
	tt := findTaxType(s.TaxTypes, taxTypeID)
	if tt == nil {
		return w.fail(s, &domain.ErrValidation{Field: "taxTypeId", Message: fmt.Sprintf("unknown tax type %q", taxTypeID)})
	}
	span.SetAttributes(
		attribute.String("tax_type.id", tt.ID),
		attribute.Bool("tax_type.reproduction", tt.Reproduction),
	)

	if tt.Reproduction {
		s.TaxType = tt
		s.DeclarationCount = 1
		s.Forms = []domain.DeclarationForm{{}}
		s.Errors = nil
		s.PlateLookupPending = true
		s.LastError = ""
		return nil
	}

	if count < 1 || count > w.opts.MaxDeclarations {
		return w.fail(s, &domain.ErrValidation{
			Field:   "declarationCount",
			Message: fmt.Sprintf("must be between 1 and %d", w.opts.MaxDeclarations),
		})
	}
	s.TaxType = tt
	s.DeclarationCount = count
	s.PlateLookupPending = false
	s.Forms = make([]domain.DeclarationForm, count)
	for i := range s.Forms {
		s.Forms[i] = domain.DeclarationForm{}
	}
	w.enterDeclaration(ctx, s)
	return nil
}

// LookupPlate finds the declaration being reproduced among the taxpayer's
// history, copies its fields into the single form and moves 2→3.
func (w *Wizard) LookupPlate(ctx context.Context, s *domain.Session, plate string) error {
	ctx, span := tracer.Start(ctx, "Wizard.LookupPlate")
	defer span.End()
	defer w.observe("lookup_plate", time.Now())

	if err := w.require(s, "lookup_plate", domain.StepTaxSelection); err != nil {
		return err
	}
	if !s.PlateLookupPending || s.TaxType == nil {
		return &domain.ErrInvalidTransition{Step: s.Step, Action: "lookup_plate"}
	}
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return w.fail(s, &domain.ErrValidation{Field: "plate", Message: "enter a plate number"})
	}

	found := w.findByPlate(ctx, s, plate)
	if found == nil {
		span.SetAttributes(attribute.Bool("plate.matched", false))
		return w.fail(s, &domain.ErrPlateNotFound{Plate: plate})
	}
	span.SetAttributes(
		attribute.Bool("plate.matched", true),
		attribute.String("declaration.id", found.ID),
	)

	s.Forms = []domain.DeclarationForm{formFromDeclaration(found, plate, s.TaxType)}
	s.PlateLookupPending = false
	w.enterDeclaration(ctx, s)
	return nil
}

func (w *Wizard) findByPlate(ctx context.Context, s *domain.Session, plate string) *domain.Declaration {
	if len(s.History) == 0 {
		return nil
	}
	if ai := w.deps.Assistant; ai != nil {
		found, err := ai.FindDeclarationByPlate(ctx, plate, s.History, s.TaxType)
		if err == nil {
			w.metrics.RecordAI(aiPlate, false)
			if found != nil {
				return found
			}
		} else {
			w.degraded(s, aiPlate, err)
		}
	}
	found, _ := MatchPlate(plate, s.History, s.TaxType.PlatePath())
	return found
}

// enterDeclaration moves to step 3 and runs the one-shot pre-fill. Values
// only land in schema fields that are still empty.
func (w *Wizard) enterDeclaration(ctx context.Context, s *domain.Session) {
	w.advance(s, domain.StepDeclaration)
	s.SetFieldErrors(nil)

	ai := w.deps.Assistant
	if ai == nil || s.Taxpayer == nil {
		return
	}
	values, err := ai.Prefill(ctx, s.Taxpayer, s.TaxType)
	if err != nil {
		w.degraded(s, aiPrefill, err)
		return
	}
	w.metrics.RecordAI(aiPrefill, false)

	for _, form := range s.Forms {
		for path, v := range values {
			if !s.TaxType.HasPath(path) || strings.TrimSpace(form[path]) != "" {
				continue
			}
			form[path] = v
		}
	}
}

// SetFields applies edits to the declaration forms. Every update is checked
// before any is applied. The error of each edited field is cleared.
func (w *Wizard) SetFields(s *domain.Session, updates []FieldUpdate) error {
	if err := w.require(s, "set_field", domain.StepDeclaration); err != nil {
		return err
	}
	for _, u := range updates {
		if u.Form < 0 || u.Form >= len(s.Forms) {
			return &domain.ErrValidation{Field: "form", Message: fmt.Sprintf("no declaration form %d", u.Form)}
		}
		if !s.TaxType.HasPath(u.Path) {
			return &domain.ErrValidation{Field: u.Path, Message: "unknown field"}
		}
	}
	for _, u := range updates {
		s.Forms[u.Form][u.Path] = u.Value
		s.ClearFieldError(u.Form, u.Path)
	}
	s.LastError = ""
	return nil
}

// SetField edits a single value.
func (w *Wizard) SetField(s *domain.Session, form int, path, value string) error {
	return w.SetFields(s, []FieldUpdate{{Form: form, Path: path, Value: value}})
}

// Submit runs the validation gate, resolves the amount, persists the
// declaration and moves 3→4.
func (w *Wizard) Submit(ctx context.Context, s *domain.Session) error {
	ctx, span := tracer.Start(ctx, "Wizard.Submit")
	defer span.End()
	defer w.observe("submit", time.Now())

	if err := w.require(s, "submit", domain.StepDeclaration); err != nil {
		return err
	}

	result := w.validate(ctx, s)
	if !result.Valid {
		s.SetFieldErrors(result.Fields)
		span.SetAttributes(attribute.Int("validation.errors", len(result.Fields)))
		return w.fail(s, &domain.ErrIncompleteDeclaration{Fields: result.Fields})
	}
	s.SetFieldErrors(nil)

	in := AmountInput{
		TaxTypeFormula: s.TaxType.AmountFormula,
		Forms:          s.Forms,
		Count:          s.DeclarationCount,
		UnitAmount:     w.opts.UnitAmount,
	}
	if s.Operator != nil {
		in.OperatorFormula = s.Operator.Formula
	}
	amount := ResolveAmount(ctx, w.deps.Assistant, in)
	for _, err := range amount.Failures {
		w.degraded(s, aiAmount, err)
	}
	if amount.Source != domain.AmountFromDefault {
		w.metrics.RecordAI(aiAmount, false)
	}
	span.SetAttributes(
		attribute.String("amount", amount.Amount.String()),
		attribute.String("amount.source", amount.Source),
	)

	req := &domain.CreateDeclarationRequest{
		TaxTypeID:  s.TaxType.ID,
		TaxpayerID: s.Taxpayer.ID,
		Amount:     amount.Amount,
		Forms:      cloneForms(s.Forms),
	}
	if s.Operator != nil {
		req.UserID = s.Operator.ID
		req.SiteCode = s.Operator.SiteCode
	}
	decl, err := w.deps.Declarations.CreateDeclaration(ctx, req)
	if err != nil {
		w.countExternal(err, "declarations")
		return w.fail(s, fmt.Errorf("create declaration: %w", err))
	}

	s.Declaration = decl
	s.Amount = amount.Amount
	s.AmountSource = amount.Source
	w.metrics.IncrDeclaration()
	w.advance(s, domain.StepSummary)

	w.logger.Info("declaration created",
		zap.String("session_id", s.ID),
		zap.String("declaration_id", decl.ID),
		zap.String("reference", decl.Reference),
		zap.String("amount", amount.Amount.String()),
		zap.String("amount_source", amount.Source),
	)
	return nil
}

// validate asks the assistant for the required-field verdict, falling back
// to the local check. Format checks always run locally.
func (w *Wizard) validate(ctx context.Context, s *domain.Session) *domain.ValidationResult {
	missing := w.validator.Missing(s.Forms, s.TaxType)
	if ai := w.deps.Assistant; ai != nil {
		verdict, err := ai.ValidateRequired(ctx, s.Forms, s.TaxType)
		if err != nil {
			w.degraded(s, aiValidate, err)
		} else {
			w.metrics.RecordAI(aiValidate, false)
			missing = nil
			if !verdict.Valid {
				missing = w.validator.FilterReported(verdict.Fields, s.Forms, s.TaxType)
			}
		}
	}
	return mergeFieldErrors(missing, w.validator.Invalid(s.Forms, s.TaxType))
}

// DeleteDeclaration removes the unpaid declaration and restarts the wizard.
func (w *Wizard) DeleteDeclaration(ctx context.Context, s *domain.Session) error {
	ctx, span := tracer.Start(ctx, "Wizard.DeleteDeclaration")
	defer span.End()
	defer w.observe("delete_declaration", time.Now())

	if err := w.require(s, "delete_declaration", domain.StepSummary); err != nil {
		return err
	}
	if s.Payment != nil {
		return &domain.ErrInvalidTransition{Step: s.Step, Action: "delete_declaration"}
	}

	id := s.Declaration.ID
	if err := w.deps.Declarations.DeleteDeclaration(ctx, id); err != nil {
		w.countExternal(err, "declarations")
		var ext *domain.ErrExternalService
		var open *domain.ErrCircuitOpen
		if !errors.As(err, &ext) && !errors.As(err, &open) {
			err = &domain.ErrExternalService{Service: "declarations", Err: err}
		}
		return w.fail(s, err)
	}

	w.logger.Info("declaration deleted",
		zap.String("session_id", s.ID),
		zap.String("declaration_id", id),
	)
	w.reset(s)
	return nil
}

// Pay settles the declaration. A failed payment leaves the session at step 4
// so the operator can retry.
func (w *Wizard) Pay(ctx context.Context, s *domain.Session, in PaymentInput) (*domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "Wizard.Pay")
	defer span.End()
	defer w.observe("pay", time.Now())

	if err := w.require(s, "pay", domain.StepSummary); err != nil {
		return nil, err
	}
	if s.Payment != nil {
		return nil, &domain.ErrInvalidTransition{Step: s.Step, Action: "pay"}
	}

	spec, ok := domain.LookupPaymentMethod(in.Method)
	if !ok {
		return nil, &domain.ErrValidation{Field: "method", Message: fmt.Sprintf("unknown payment method %q", in.Method)}
	}
	if in.Penalties.IsNegative() {
		return nil, &domain.ErrValidation{Field: "penalties", Message: "must not be negative"}
	}
	fields := make(map[string]string, len(in.Fields))
	for k, v := range in.Fields {
		if v = strings.TrimSpace(v); v != "" {
			fields[k] = v
		}
	}
	if missing := spec.MissingFields(fields); len(missing) > 0 {
		return nil, &domain.ErrPaymentFieldsMissing{Method: in.Method, Fields: missing}
	}
	span.SetAttributes(attribute.String("payment.method", string(in.Method)))

	req := &domain.PaymentRequest{
		DeclarationID:        s.Declaration.ID,
		DeclarationReference: s.Declaration.Reference,
		TaxpayerID:           s.Taxpayer.ID,
		Method:               in.Method,
		Amount:               s.Amount,
		Penalties:            in.Penalties,
		Fields:               fields,
	}
	payment, err := w.deps.Payments.ProcessPayment(ctx, req)
	if err != nil {
		w.metrics.RecordPayment(in.Method, "failure")
		w.countExternal(err, "payments")
		return nil, w.fail(s, fmt.Errorf("process payment: %w", err))
	}

	s.Payment = payment
	s.LastError = ""
	w.metrics.RecordPayment(in.Method, "success")
	w.logger.Info("payment recorded",
		zap.String("session_id", s.ID),
		zap.String("declaration_id", s.Declaration.ID),
		zap.String("payment_reference", payment.Reference),
		zap.String("method", string(payment.Method)),
		zap.String("total", payment.Total.String()),
	)

	if w.deps.Notifier != nil {
		if err := w.deps.Notifier.PaymentRecorded(ctx, payment, s.Declaration, s.Taxpayer); err != nil {
			w.countExternal(err, "notifications")
			w.logger.Warn("payment notification failed",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
		}
	}
	return payment, nil
}

// Receipt builds the receipt for the current declaration. It is a preview
// until a payment is recorded.
func (w *Wizard) Receipt(ctx context.Context, s *domain.Session) (*domain.Receipt, error) {
	_, span := tracer.Start(ctx, "Wizard.Receipt")
	defer span.End()

	if err := w.require(s, "receipt", domain.StepSummary); err != nil {
		return nil, err
	}
	r, err := BuildReceipt(s, w.opts.Issuer, w.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("build receipt: %w", err)
	}
	span.SetAttributes(attribute.Bool("receipt.preview", r.Preview))
	return r, nil
}

// RenderReceipt writes the receipt in the given format without touching the
// session.
func (w *Wizard) RenderReceipt(ctx context.Context, s *domain.Session, format string, out io.Writer) error {
	r, err := w.Receipt(ctx, s)
	if err != nil {
		return err
	}
	return w.render(r, format, out)
}

// Print renders the receipt and, once a payment exists, ends the
// transaction: the session returns to step 1 with Completed set.
func (w *Wizard) Print(ctx context.Context, s *domain.Session, format string, out io.Writer) (completed bool, err error) {
	ctx, span := tracer.Start(ctx, "Wizard.Print")
	defer span.End()
	defer w.observe("print", time.Now())

	r, err := w.Receipt(ctx, s)
	if err != nil {
		return false, err
	}
	var buf bytes.Buffer
	if err := w.render(r, format, &buf); err != nil {
		return false, err
	}
	if _, err := buf.WriteTo(out); err != nil {
		return false, fmt.Errorf("write receipt: %w", err)
	}

	if r.Preview {
		return false, nil
	}
	w.logger.Info("transaction completed",
		zap.String("session_id", s.ID),
		zap.String("declaration_id", r.DeclarationID),
	)
	w.reset(s)
	s.Completed = true
	return true, nil
}

func (w *Wizard) render(r *domain.Receipt, format string, out io.Writer) error {
	switch format {
	case "", FormatHTML:
		return w.deps.Renderer.RenderHTML(out, r)
	case FormatPDF:
		return w.deps.Renderer.RenderPDF(out, r)
	default:
		return &domain.ErrValidation{Field: "format", Message: fmt.Sprintf("unsupported receipt format %q", format)}
	}
}

// Reset abandons the current transaction from any step.
func (w *Wizard) Reset(s *domain.Session) {
	w.reset(s)
}

func (w *Wizard) reset(s *domain.Session) {
	from := s.Step
	s.Reset()
	s.UpdatedAt = w.opts.Now()
	if from != domain.StepIdentification {
		w.metrics.RecordStep(from, domain.StepIdentification)
	}
}

// require rejects an action outside its step.
func (w *Wizard) require(s *domain.Session, action string, step domain.Step) error {
	if s.Step != step {
		return &domain.ErrInvalidTransition{Step: s.Step, Action: action}
	}
	return nil
}

func (w *Wizard) advance(s *domain.Session, to domain.Step) {
	w.metrics.RecordStep(s.Step, to)
	s.Step = to
	s.LastError = ""
	s.UpdatedAt = w.opts.Now()
}

// fail records err as the message shown on the current step.
func (w *Wizard) fail(s *domain.Session, err error) error {
	s.LastError = err.Error()
	return err
}

// degraded logs an assistant failure answered by the local fallback.
func (w *Wizard) degraded(s *domain.Session, operation string, err error) {
	w.metrics.RecordAI(operation, true)
	w.logger.Warn("assistant unavailable, using local fallback",
		zap.String("session_id", s.ID),
		zap.String("operation", operation),
		zap.Error(err),
	)
}

func (w *Wizard) countExternal(err error, service string) {
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		return
	}
	w.metrics.IncrExternalError(service)
}

func (w *Wizard) observe(operation string, start time.Time) {
	w.metrics.RecordRequestDuration(operation, time.Since(start))
}

func findTaxType(types []domain.TaxType, id string) *domain.TaxType {
	for i := range types {
		if types[i].ID == id {
			tt := types[i]
			return &tt
		}
	}
	return nil
}

func cloneForms(forms []domain.DeclarationForm) []domain.DeclarationForm {
	out := make([]domain.DeclarationForm, len(forms))
	for i, f := range forms {
		out[i] = f.Clone()
	}
	return out
}
