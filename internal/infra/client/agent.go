package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

const agentService = "agent"

// AgentClient calls the AI agent service that pre-fills forms, checks
// required fields, evaluates amount formulas and matches plates.
type AgentClient struct {
	endpoint
}

// NewAgentClient creates a new AgentClient.
func NewAgentClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *AgentClient {
	return &AgentClient{endpoint: endpoint{
		service:    agentService,
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}}
}

type prefillRequest struct {
	Taxpayer *domain.Taxpayer `json:"taxpayer"`
	Schema   []domain.Field   `json:"schema"`
}

type prefillResponse struct {
	Values map[string]any `json:"values"`
}

// Prefill asks the agent for field values derived from the taxpayer profile.
func (c *AgentClient) Prefill(ctx context.Context, taxpayer *domain.Taxpayer, taxType *domain.TaxType) (domain.DeclarationForm, error) {
	ctx, span := tracer.Start(ctx, "AgentClient.Prefill")
	defer span.End()
	span.SetAttributes(attribute.String("tax_type.id", taxType.ID))

	var resp prefillResponse
	req := prefillRequest{Taxpayer: taxpayer, Schema: taxType.FormSchema}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/prefill", req, &resp); err != nil {
		span.RecordError(err)
		return nil, classify(agentService, "", "", err)
	}

	form := make(domain.DeclarationForm, len(resp.Values))
	for path, v := range resp.Values {
		s, err := domain.ScalarString(v)
		if err != nil {
			continue
		}
		form[path] = s
	}
	return form, nil
}

type validateRequest struct {
	Forms  []domain.DeclarationForm `json:"forms"`
	Schema []domain.Field           `json:"schema"`
}

// ValidateRequired asks the agent whether every required field is filled.
func (c *AgentClient) ValidateRequired(ctx context.Context, forms []domain.DeclarationForm, taxType *domain.TaxType) (*domain.ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "AgentClient.ValidateRequired")
	defer span.End()
	span.SetAttributes(attribute.Int("declaration.forms", len(forms)))

	var result domain.ValidationResult
	req := validateRequest{Forms: forms, Schema: taxType.FormSchema}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/validate", req, &result); err != nil {
		span.RecordError(err)
		return nil, classify(agentService, "", "", err)
	}
	if !result.Valid && len(result.Fields) == 0 {
		return nil, &domain.ErrExternalService{Service: agentService, Err: fmt.Errorf("invalid verdict without fields")}
	}
	span.SetAttributes(attribute.Bool("validation.valid", result.Valid))
	return &result, nil
}

type amountRequest struct {
	Formula string                   `json:"formula"`
	Forms   []domain.DeclarationForm `json:"forms"`
	Count   int                      `json:"count"`
}

type amountResponse struct {
	Amount *decimal.Decimal `json:"amount"`
}

// ComputeAmount has the agent evaluate a formula over the filled forms.
func (c *AgentClient) ComputeAmount(ctx context.Context, formula string, forms []domain.DeclarationForm, count int) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "AgentClient.ComputeAmount")
	defer span.End()
	span.SetAttributes(attribute.Int("declaration.count", count))

	var resp amountResponse
	req := amountRequest{Formula: formula, Forms: forms, Count: count}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/amount", req, &resp); err != nil {
		span.RecordError(err)
		return decimal.Zero, classify(agentService, "", "", err)
	}
	if resp.Amount == nil {
		return decimal.Zero, &domain.ErrExternalService{Service: agentService, Err: fmt.Errorf("response carries no amount")}
	}
	return *resp.Amount, nil
}

type plateRequest struct {
	Plate      string               `json:"plate"`
	PlateField string               `json:"plateField"`
	Candidates []domain.Declaration `json:"candidates"`
	Schema     []domain.Field       `json:"schema"`
}

type plateResponse struct {
	DeclarationID string `json:"declarationId"`
}

// FindDeclarationByPlate lets the agent fuzzy-match a plate against the
// candidates. It returns nil, nil when the agent finds nothing.
func (c *AgentClient) FindDeclarationByPlate(ctx context.Context, plate string, candidates []domain.Declaration, taxType *domain.TaxType) (*domain.Declaration, error) {
	ctx, span := tracer.Start(ctx, "AgentClient.FindDeclarationByPlate")
	defer span.End()
	span.SetAttributes(attribute.Int("plate.candidates", len(candidates)))

	var resp plateResponse
	req := plateRequest{
		Plate:      plate,
		PlateField: taxType.PlatePath(),
		Candidates: candidates,
		Schema:     taxType.FormSchema,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/plate-match", req, &resp); err != nil {
		span.RecordError(err)
		return nil, classify(agentService, "", "", err)
	}
	if resp.DeclarationID == "" {
		return nil, nil
	}
	for i := range candidates {
		if candidates[i].ID == resp.DeclarationID {
			return &candidates[i], nil
		}
	}
	return nil, &domain.ErrExternalService{
		Service: agentService,
		Err:     fmt.Errorf("matched unknown declaration %q", resp.DeclarationID),
	}
}
