// Package stripe settles card payments through Stripe PaymentIntents.
package stripe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/resilience"

	"github.com/sony/gobreaker"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const service = "stripe"

var tracer = otel.Tracer("stripe")

// ErrNotSucceeded is returned when the PaymentIntent did not settle
// synchronously (for instance it requires 3-D Secure).
var ErrNotSucceeded = errors.New("payment intent not succeeded")

// Processor implements port.PaymentProcessor for the card method. The card
// is referenced by the card_token auxiliary field (a Stripe PaymentMethod id).
type Processor struct {
	intents  *paymentintent.Client
	currency string
	cb       *gobreaker.CircuitBreaker
	cfg      resilience.Config
	now      func() time.Time
}

// NewProcessor creates a Processor on the default Stripe API backend.
func NewProcessor(apiKey, currency string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Processor {
	return NewProcessorWithBackend(apiKey, currency, stripego.GetBackend(stripego.APIBackend), cb, cfg)
}

// NewProcessorWithBackend creates a Processor on an explicit backend.
func NewProcessorWithBackend(apiKey, currency string, backend stripego.Backend, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Processor {
	if currency == "" {
		currency = "cdf"
	}
	return &Processor{
		intents:  &paymentintent.Client{B: backend, Key: apiKey},
		currency: currency,
		cb:       cb,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ProcessPayment charges the total (amount plus penalties) to the card.
func (p *Processor) ProcessPayment(ctx context.Context, req *domain.PaymentRequest) (*domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "Processor.ProcessPayment")
	defer span.End()
	span.SetAttributes(attribute.String("declaration.id", req.DeclarationID))

	if req.Method != domain.MethodCard {
		return nil, &domain.ErrValidation{Field: "method", Message: fmt.Sprintf("stripe only handles %s payments", domain.MethodCard)}
	}
	token := req.Fields["card_token"]
	if token == "" {
		return nil, &domain.ErrPaymentFieldsMissing{Method: req.Method, Fields: []string{"card_token"}}
	}

	total := req.Total()
	minor := total.Shift(2).IntPart()
	if minor <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "card payments need a positive total"}
	}

	intent, err := resilience.Execute(ctx, p.cb, p.cfg, func() (*stripego.PaymentIntent, error) {
		params := &stripego.PaymentIntentParams{
			Amount:             stripego.Int64(minor),
			Currency:           stripego.String(p.currency),
			PaymentMethod:      stripego.String(token),
			PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
			Confirm:            stripego.Bool(true),
			Description:        stripego.String("Declaration " + req.DeclarationReference),
		}
		params.Context = ctx
		params.SetIdempotencyKey(idempotencyKey(req.DeclarationID, token, minor))
		params.AddMetadata("declaration_id", req.DeclarationID)
		params.AddMetadata("taxpayer_id", req.TaxpayerID)

		pi, err := p.intents.New(params)
		if err != nil {
			var se *stripego.Error
			if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 {
				return nil, resilience.Permanent(err)
			}
			return nil, err
		}
		return pi, nil
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, &domain.ErrCircuitOpen{Service: service}
		}
		return nil, &domain.ErrExternalService{Service: service, Err: err}
	}
	if intent.Status != stripego.PaymentIntentStatusSucceeded {
		return nil, &domain.ErrExternalService{
			Service: service,
			Err:     fmt.Errorf("%w: status %s", ErrNotSucceeded, intent.Status),
		}
	}

	span.SetAttributes(attribute.String("stripe.payment_intent", intent.ID))
	return &domain.Payment{
		Reference:     intent.ID,
		DeclarationID: req.DeclarationID,
		Method:        req.Method,
		Amount:        req.Amount,
		Penalties:     req.Penalties,
		Total:         total,
		Fields:        map[string]string{"card_token": token},
		Provider:      service,
		ProviderRef:   intent.ID,
		PaidAt:        p.now(),
	}, nil
}

// idempotencyKey identifies one charge attempt. Retries of the same attempt
// share it; a new card or a different total starts a new charge.
func idempotencyKey(declarationID, cardToken string, minor int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", declarationID, cardToken, minor))
	return "declaration-" + declarationID + "-" + hex.EncodeToString(sum[:8])
}
