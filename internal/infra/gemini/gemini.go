// Package gemini implements the wizard's AI assistant on Google's Gemini API.
// Every call asks for a JSON answer and is decoded strictly; anything the
// model returns that does not fit is reported as an error so the wizard
// falls back to its local path.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

const service = "gemini"

var tracer = otel.Tracer("gemini")

// Generator produces a JSON document for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

// NewGenerator creates a Gemini-backed generator.
func NewGenerator(ctx context.Context, apiKey, model string) (Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &genaiGenerator{client: client, model: model}, nil
}

func (g *genaiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

// Assistant implements port.Assistant with prompts answered by a Generator.
// Concurrent prompts are capped at cfg.MaxConcurrency.
type Assistant struct {
	gen   Generator
	cb    *gobreaker.CircuitBreaker
	cfg   resilience.Config
	slots *resilience.Bulkhead
}

// New creates a new Assistant.
func New(gen Generator, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Assistant {
	return &Assistant{gen: gen, cb: cb, cfg: cfg, slots: resilience.NewBulkhead(cfg.MaxConcurrency)}
}

// ask sends the prompt and decodes the JSON answer into out.
func (a *Assistant) ask(ctx context.Context, prompt string, out any) error {
	if err := a.slots.Acquire(ctx); err != nil {
		return &domain.ErrExternalService{Service: service, Err: err}
	}
	defer a.slots.Release()

	text, err := resilience.Execute(ctx, a.cb, a.cfg, func() (string, error) {
		return a.gen.Generate(ctx, prompt)
	})
	if err != nil {
		return &domain.ErrExternalService{Service: service, Err: err}
	}
	if err := json.Unmarshal([]byte(stripFence(text)), out); err != nil {
		return &domain.ErrExternalService{Service: service, Err: fmt.Errorf("decode answer: %w", err)}
	}
	return nil
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(b)
}

// Prefill proposes field values from the taxpayer profile. Only paths of the
// schema are kept.
func (a *Assistant) Prefill(ctx context.Context, taxpayer *domain.Taxpayer, taxType *domain.TaxType) (domain.DeclarationForm, error) {
	ctx, span := tracer.Start(ctx, "Assistant.Prefill")
	defer span.End()
	span.SetAttributes(attribute.String("tax_type.id", taxType.ID))

	prompt := fmt.Sprintf(`You fill vehicle tax declaration forms.
Field paths join a parent key and a child key with "_".
Using only facts present in the taxpayer profile, propose values for the form fields.
Leave out any field you cannot fill with certainty.
Answer with JSON: {"values": {"<field path>": "<value>"}}

Taxpayer profile:
%s

Form schema:
%s
`, mustJSON(taxpayer), mustJSON(taxType.FormSchema))

	var resp struct {
		Values map[string]any `json:"values"`
	}
	if err := a.ask(ctx, prompt, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}

	form := make(domain.DeclarationForm, len(resp.Values))
	for path, v := range resp.Values {
		if !taxType.HasPath(path) {
			continue
		}
		s, err := domain.ScalarString(v)
		if err != nil {
			continue
		}
		form[path] = s
	}
	return form, nil
}

// ValidateRequired asks the model which required fields are still empty.
func (a *Assistant) ValidateRequired(ctx context.Context, forms []domain.DeclarationForm, taxType *domain.TaxType) (*domain.ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "Assistant.ValidateRequired")
	defer span.End()
	span.SetAttributes(attribute.Int("declaration.forms", len(forms)))

	prompt := fmt.Sprintf(`You check vehicle tax declaration forms before submission.
Field paths join a parent key and a child key with "_".
A field with "required": true must have a non-empty value. Sub-fields of a field
with "showWhen" only count when the parent's value is one of "showWhen".
Forms are numbered from 0.
Answer with JSON: {"valid": true|false, "fields": [{"form": <n>, "path": "<field path>", "message": "missing"}]}

Form schema:
%s

Forms:
%s
`, mustJSON(taxType.FormSchema), mustJSON(forms))

	var result domain.ValidationResult
	if err := a.ask(ctx, prompt, &result); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !result.Valid && len(result.Fields) == 0 {
		return nil, &domain.ErrExternalService{Service: service, Err: fmt.Errorf("invalid verdict without fields")}
	}
	return &result, nil
}

// ComputeAmount has the model evaluate a formula over the forms.
func (a *Assistant) ComputeAmount(ctx context.Context, formula string, forms []domain.DeclarationForm, count int) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "Assistant.ComputeAmount")
	defer span.End()
	span.SetAttributes(attribute.Int("declaration.count", count))

	prompt := fmt.Sprintf(`You compute the amount due for a vehicle tax declaration.
Apply the formula below to the declaration data. "count" is the number of declarations.
Answer with JSON: {"amount": <number>}

Formula: %s
count: %d

Declarations:
%s
`, formula, count, mustJSON(forms))

	var resp struct {
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := a.ask(ctx, prompt, &resp); err != nil {
		span.RecordError(err)
		return decimal.Zero, err
	}
	if resp.Amount == nil {
		return decimal.Zero, &domain.ErrExternalService{Service: service, Err: fmt.Errorf("answer carries no amount")}
	}
	return *resp.Amount, nil
}

// FindDeclarationByPlate asks the model to fuzzy-match the plate against the
// candidates' plate field. It returns nil, nil when nothing matches.
func (a *Assistant) FindDeclarationByPlate(ctx context.Context, plate string, candidates []domain.Declaration, taxType *domain.TaxType) (*domain.Declaration, error) {
	ctx, span := tracer.Start(ctx, "Assistant.FindDeclarationByPlate")
	defer span.End()
	span.SetAttributes(attribute.Int("plate.candidates", len(candidates)))

	type candidate struct {
		ID     string   `json:"id"`
		Plates []string `json:"plates"`
	}
	field := taxType.PlatePath()
	list := make([]candidate, 0, len(candidates))
	for _, d := range candidates {
		c := candidate{ID: d.ID}
		for _, f := range d.Forms {
			if p := f[field]; p != "" {
				c.Plates = append(c.Plates, p)
			}
		}
		list = append(list, c)
	}

	prompt := fmt.Sprintf(`You find a vehicle's previous declaration from its plate number.
Plates may differ in case, spacing, dashes and common OCR confusions (O/0, I/1, B/8).
Pick the single best candidate, or none if no plate plausibly matches.
Answer with JSON: {"declarationId": "<id or empty string>"}

Plate: %q

Candidates:
%s
`, plate, mustJSON(list))

	var resp struct {
		DeclarationID string `json:"declarationId"`
	}
	if err := a.ask(ctx, prompt, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if resp.DeclarationID == "" {
		return nil, nil
	}
	for i := range candidates {
		if candidates[i].ID == resp.DeclarationID {
			return &candidates[i], nil
		}
	}
	return nil, &domain.ErrExternalService{Service: service, Err: fmt.Errorf("matched unknown declaration %q", resp.DeclarationID)}
}
