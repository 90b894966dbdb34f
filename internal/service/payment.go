package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/port"
)

// PaymentRecorder stores a payment accepted by another processor.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, p *domain.Payment) error
}

// PaymentRouter dispatches a payment to the processor registered for its
// method, or to the fallback processor.
type PaymentRouter struct {
	fallback port.PaymentProcessor
	byMethod map[domain.PaymentMethod]port.PaymentProcessor
}

// NewPaymentRouter creates a router that sends every method to fallback
// until Route says otherwise.
func NewPaymentRouter(fallback port.PaymentProcessor) *PaymentRouter {
	return &PaymentRouter{
		fallback: fallback,
		byMethod: map[domain.PaymentMethod]port.PaymentProcessor{},
	}
}

// Route registers p for method m.
func (r *PaymentRouter) Route(m domain.PaymentMethod, p port.PaymentProcessor) *PaymentRouter {
	r.byMethod[m] = p
	return r
}

// ProcessPayment implements port.PaymentProcessor.
func (r *PaymentRouter) ProcessPayment(ctx context.Context, req *domain.PaymentRequest) (*domain.Payment, error) {
	if p, ok := r.byMethod[req.Method]; ok {
		return p.ProcessPayment(ctx, req)
	}
	if r.fallback == nil {
		return nil, &domain.ErrValidation{Field: "method", Message: fmt.Sprintf("no processor for %s", req.Method)}
	}
	return r.fallback.ProcessPayment(ctx, req)
}

// RecordingProcessor stores every payment its inner processor accepts.
type RecordingProcessor struct {
	inner    port.PaymentProcessor
	recorder PaymentRecorder
}

// NewRecordingProcessor wraps inner so accepted payments reach recorder.
func NewRecordingProcessor(inner port.PaymentProcessor, recorder PaymentRecorder) *RecordingProcessor {
	return &RecordingProcessor{inner: inner, recorder: recorder}
}

// ProcessPayment implements port.PaymentProcessor. A payment taken but not
// recorded is reported as an error carrying the provider reference.
func (p *RecordingProcessor) ProcessPayment(ctx context.Context, req *domain.PaymentRequest) (*domain.Payment, error) {
	payment, err := p.inner.ProcessPayment(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := p.recorder.RecordPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment %s: %w", payment.Reference, err)
	}
	return payment, nil
}
