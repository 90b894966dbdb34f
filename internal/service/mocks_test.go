package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errAIDown = errors.New("assistant unavailable")

var fixedNow = time.Date(2026, 1, 14, 10, 30, 0, 0, time.UTC)

// --- fixtures ---

func vehicleRegistration() domain.TaxType {
	return domain.TaxType{
		ID:   "vehicle-registration",
		Name: "Vehicle Registration",
		FormSchema: []domain.Field{
			{Type: domain.FieldText, Key: "owner_name", Label: "Owner", Required: true},
			{Type: domain.FieldText, Key: "plate_number", Label: "Plate", Required: true},
			{
				Type: domain.FieldSelect, Key: "usage", Label: "Usage", Required: true,
				Options:  []string{"private", "commercial"},
				ShowWhen: []string{"commercial"},
				SubFields: []domain.Field{
					{Type: domain.FieldText, Key: "licence", Label: "Licence", Required: true},
				},
			},
			{Type: domain.FieldNumber, Key: "seats", Label: "Seats", Required: true},
			{Type: domain.FieldEmail, Key: "email", Label: "Email", Required: true},
			{Type: domain.FieldPhone, Key: "phone2", Label: "Numéro telephone 2", Required: true},
		},
	}
}

func cardReproduction() domain.TaxType {
	return domain.TaxType{
		ID:           "card-reproduction",
		Name:         "Card Reproduction",
		Reproduction: true,
		FormSchema: []domain.Field{
			{Type: domain.FieldText, Key: "owner_name", Label: "Owner", Required: true},
			{Type: domain.FieldText, Key: "plate_number", Label: "Plate", Required: true},
		},
	}
}

func completeForm(plate string) domain.DeclarationForm {
	return domain.DeclarationForm{
		"owner_name":   "Jean Mukendi",
		"plate_number": plate,
		"usage":        "private",
		"seats":        "5",
	}
}

// --- mocks ---

type mockVerifier struct {
	taxpayers map[string]*domain.Taxpayer
	err       error
}

func (m *mockVerifier) VerifyTaxpayer(_ context.Context, id string) (*domain.Taxpayer, error) {
	if m.err != nil {
		return nil, m.err
	}
	tp, ok := m.taxpayers[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "taxpayer", ID: id}
	}
	return tp, nil
}

type mockTaxTypes struct {
	types []domain.TaxType
	err   error
	calls int
}

func (m *mockTaxTypes) GetTaxTypes(context.Context) ([]domain.TaxType, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.TaxType, len(m.types))
	copy(out, m.types)
	return out, nil
}

type mockDeclarations struct {
	mu         sync.Mutex
	history    []domain.Declaration
	historyErr error
	createErr  error
	deleteErr  error
	created    []*domain.CreateDeclarationRequest
	deleted    []string
}

func (m *mockDeclarations) CreateDeclaration(_ context.Context, req *domain.CreateDeclarationRequest) (*domain.Declaration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	n := len(m.created)
	return &domain.Declaration{
		ID:         fmt.Sprintf("decl-%d", n),
		Reference:  fmt.Sprintf("DCL-20260114-%06d", n),
		TaxTypeID:  req.TaxTypeID,
		TaxpayerID: req.TaxpayerID,
		Amount:     req.Amount,
		Forms:      req.Forms,
		UserID:     req.UserID,
		SiteCode:   req.SiteCode,
		CreatedAt:  fixedNow,
	}, nil
}

func (m *mockDeclarations) DeleteDeclaration(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockDeclarations) ListDeclarationsByTaxpayer(context.Context, string) ([]domain.Declaration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.history, nil
}

// mockAssistant answers with the configured funcs; a nil func fails.
type mockAssistant struct {
	prefill  func(*domain.Taxpayer, *domain.TaxType) (domain.DeclarationForm, error)
	validate func([]domain.DeclarationForm, *domain.TaxType) (*domain.ValidationResult, error)
	amount   func(formula string, count int) (decimal.Decimal, error)
	plate    func(plate string, candidates []domain.Declaration) (*domain.Declaration, error)
	formulas []string
}

func (m *mockAssistant) Prefill(_ context.Context, tp *domain.Taxpayer, tt *domain.TaxType) (domain.DeclarationForm, error) {
	if m.prefill == nil {
		return nil, errAIDown
	}
	return m.prefill(tp, tt)
}

func (m *mockAssistant) ValidateRequired(_ context.Context, forms []domain.DeclarationForm, tt *domain.TaxType) (*domain.ValidationResult, error) {
	if m.validate == nil {
		return nil, errAIDown
	}
	return m.validate(forms, tt)
}

func (m *mockAssistant) ComputeAmount(_ context.Context, formula string, _ []domain.DeclarationForm, count int) (decimal.Decimal, error) {
	m.formulas = append(m.formulas, formula)
	if m.amount == nil {
		return decimal.Zero, errAIDown
	}
	return m.amount(formula, count)
}

func (m *mockAssistant) FindDeclarationByPlate(_ context.Context, plate string, candidates []domain.Declaration, _ *domain.TaxType) (*domain.Declaration, error) {
	if m.plate == nil {
		return nil, errAIDown
	}
	return m.plate(plate, candidates)
}

type mockPayments struct {
	err      error
	requests []*domain.PaymentRequest
}

func (m *mockPayments) ProcessPayment(_ context.Context, req *domain.PaymentRequest) (*domain.Payment, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Payment{
		ID:            "pay-1",
		Reference:     "PAY-20260114-000001",
		DeclarationID: req.DeclarationID,
		Method:        req.Method,
		Amount:        req.Amount,
		Penalties:     req.Penalties,
		Total:         req.Total(),
		Fields:        req.Fields,
		Provider:      "mock",
		PaidAt:        fixedNow,
	}, nil
}

type mockNotifier struct {
	err      error
	payments []*domain.Payment
}

func (m *mockNotifier) PaymentRecorded(_ context.Context, p *domain.Payment, _ *domain.Declaration, _ *domain.Taxpayer) error {
	m.payments = append(m.payments, p)
	return m.err
}

type mockRenderer struct{}

func (mockRenderer) RenderHTML(w io.Writer, r *domain.Receipt) error {
	_, err := fmt.Fprintf(w, "<html>%s</html>", r.DeclarationReference)
	return err
}

func (mockRenderer) RenderPDF(w io.Writer, r *domain.Receipt) error {
	_, err := fmt.Fprintf(w, "%%PDF-%s", r.DeclarationReference)
	return err
}

// --- harness ---

type harness struct {
	verifier     *mockVerifier
	taxTypes     *mockTaxTypes
	declarations *mockDeclarations
	payments     *mockPayments
	notifier     *mockNotifier
	metrics      *observability.Metrics
	wizard       *service.Wizard
}

func newHarness(ai *mockAssistant) *harness {
	h := &harness{
		verifier: &mockVerifier{taxpayers: map[string]*domain.Taxpayer{
			"NIF123": {ID: "tp-1", NIF: "NIF123", Name: "Jean Mukendi", Address: "12 av. Lumumba, Kinshasa"},
		}},
		taxTypes:     &mockTaxTypes{types: []domain.TaxType{vehicleRegistration(), cardReproduction()}},
		declarations: &mockDeclarations{},
		payments:     &mockPayments{},
		notifier:     &mockNotifier{},
		metrics:      observability.NewMetrics(),
	}
	deps := service.Deps{
		Taxpayers:    h.verifier,
		TaxTypes:     h.taxTypes,
		Declarations: h.declarations,
		Payments:     h.payments,
		Notifier:     h.notifier,
		Renderer:     mockRenderer{},
	}
	if ai != nil {
		deps.Assistant = ai
	}
	h.wizard = service.NewWizard(deps, service.Options{
		Issuer: "Direction Générale des Recettes",
		Now:    func() time.Time { return fixedNow },
	}, h.metrics, zap.NewNop())
	return h
}

func newSession() *domain.Session {
	return domain.NewSession("sess-1", nil, fixedNow)
}
