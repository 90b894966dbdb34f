package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

const portalService = "portal"

// PortalClient talks to the portal's base API: taxpayer registry, tax type
// catalogue, declarations and payments.
type PortalClient struct {
	endpoint
	now func() time.Time
}

// NewPortalClient creates a new PortalClient.
func NewPortalClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *PortalClient {
	return &PortalClient{
		endpoint: endpoint{
			service:    portalService,
			httpClient: httpClient,
			baseURL:    baseURL,
			cb:         cb,
			cfg:        cfg,
		},
		now: time.Now,
	}
}

// VerifyTaxpayer looks a taxpayer up by NIF or phone number.
func (c *PortalClient) VerifyTaxpayer(ctx context.Context, id string) (*domain.Taxpayer, error) {
	ctx, span := tracer.Start(ctx, "PortalClient.VerifyTaxpayer")
	defer span.End()
	span.SetAttributes(attribute.String("taxpayer.id", id))

	var tp domain.Taxpayer
	if err := c.doJSON(ctx, http.MethodGet, "/taxpayers/"+url.PathEscape(id), nil, &tp); err != nil {
		span.RecordError(err)
		return nil, classify(portalService, "taxpayer", id, err)
	}
	if tp.ID == "" {
		tp.ID = id
	}
	return &tp, nil
}

// GetTaxTypes lists the declarable tax types.
func (c *PortalClient) GetTaxTypes(ctx context.Context) ([]domain.TaxType, error) {
	ctx, span := tracer.Start(ctx, "PortalClient.GetTaxTypes")
	defer span.End()

	var types []domain.TaxType
	if err := c.doJSON(ctx, http.MethodGet, "/tax-types", nil, &types); err != nil {
		span.RecordError(err)
		return nil, classify(portalService, "", "", err)
	}
	span.SetAttributes(attribute.Int("tax_types.count", len(types)))
	return types, nil
}

// ListDeclarationsByTaxpayer returns the taxpayer's historical declarations.
// An unknown taxpayer has no history.
func (c *PortalClient) ListDeclarationsByTaxpayer(ctx context.Context, taxpayerID string) ([]domain.Declaration, error) {
	ctx, span := tracer.Start(ctx, "PortalClient.ListDeclarationsByTaxpayer")
	defer span.End()
	span.SetAttributes(attribute.String("taxpayer.id", taxpayerID))

	var decls []domain.Declaration
	path := fmt.Sprintf("/taxpayers/%s/declarations", url.PathEscape(taxpayerID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &decls); err != nil {
		mapped := classify(portalService, "taxpayer", taxpayerID, err)
		if _, ok := mapped.(*domain.ErrNotFound); ok {
			return nil, nil
		}
		span.RecordError(err)
		return nil, mapped
	}
	return decls, nil
}

// CreateDeclaration persists a declaration and returns its id and reference.
func (c *PortalClient) CreateDeclaration(ctx context.Context, req *domain.CreateDeclarationRequest) (*domain.Declaration, error) {
	ctx, span := tracer.Start(ctx, "PortalClient.CreateDeclaration")
	defer span.End()
	span.SetAttributes(
		attribute.String("tax_type.id", req.TaxTypeID),
		attribute.Int("declaration.forms", len(req.Forms)),
	)

	var created domain.Declaration
	if err := c.sendOnce(ctx, http.MethodPost, "/declarations", req, &created); err != nil {
		span.RecordError(err)
		return nil, classify("declarations", "", "", err)
	}
	if created.ID == "" {
		return nil, &domain.ErrExternalService{Service: "declarations", Err: fmt.Errorf("response carries no declaration id")}
	}

	// The API answers with the identifiers; the rest is what we sent.
	if created.TaxTypeID == "" {
		created.TaxTypeID = req.TaxTypeID
	}
	if created.TaxpayerID == "" {
		created.TaxpayerID = req.TaxpayerID
	}
	if created.Forms == nil {
		created.Forms = req.Forms
	}
	if created.Amount.IsZero() {
		created.Amount = req.Amount
	}
	if created.UserID == "" {
		created.UserID = req.UserID
	}
	if created.SiteCode == "" {
		created.SiteCode = req.SiteCode
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = c.now()
	}
	span.SetAttributes(attribute.String("declaration.reference", created.Reference))
	return &created, nil
}

// DeleteDeclaration removes an unpaid declaration.
func (c *PortalClient) DeleteDeclaration(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "PortalClient.DeleteDeclaration")
	defer span.End()
	span.SetAttributes(attribute.String("declaration.id", id))

	if err := c.sendOnce(ctx, http.MethodDelete, "/declarations/"+url.PathEscape(id), nil, nil); err != nil {
		span.RecordError(err)
		return classify("declarations", "declaration", id, err)
	}
	return nil
}

type paymentRequest struct {
	DeclarationID string               `json:"declarationId"`
	Method        domain.PaymentMethod `json:"method"`
	Amount        string               `json:"amount"`
	Penalties     string               `json:"penalties"`
	Fields        map[string]string    `json:"fields,omitempty"`
}

// ProcessPayment records an offline payment (cash, mobile money, cheque, bank deposit).
func (c *PortalClient) ProcessPayment(ctx context.Context, req *domain.PaymentRequest) (*domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "PortalClient.ProcessPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("declaration.id", req.DeclarationID),
		attribute.String("payment.method", string(req.Method)),
	)

	body := paymentRequest{
		DeclarationID: req.DeclarationID,
		Method:        req.Method,
		Amount:        req.Amount.String(),
		Penalties:     req.Penalties.String(),
		Fields:        req.Fields,
	}

	var p domain.Payment
	if err := c.sendOnce(ctx, http.MethodPost, "/payments", body, &p); err != nil {
		span.RecordError(err)
		return nil, classify("payments", "declaration", req.DeclarationID, err)
	}
	if p.Reference == "" {
		return nil, &domain.ErrExternalService{Service: "payments", Err: fmt.Errorf("response carries no payment reference")}
	}

	p.DeclarationID = req.DeclarationID
	p.Method = req.Method
	p.Amount = req.Amount
	p.Penalties = req.Penalties
	p.Total = req.Total()
	p.Fields = req.Fields
	p.Provider = portalService
	if p.PaidAt.IsZero() {
		p.PaidAt = c.now()
	}
	return &p, nil
}
