package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorderFunc func(ctx context.Context, p *domain.Payment) error

func (f recorderFunc) RecordPayment(ctx context.Context, p *domain.Payment) error { return f(ctx, p) }

func TestPaymentRouter_RoutesByMethod(t *testing.T) {
	portal := &mockPayments{}
	card := &mockPayments{}
	r := service.NewPaymentRouter(portal).Route(domain.MethodCard, card)

	_, err := r.ProcessPayment(t.Context(), &domain.PaymentRequest{Method: domain.MethodCard})
	require.NoError(t, err)
	_, err = r.ProcessPayment(t.Context(), &domain.PaymentRequest{Method: domain.MethodCheque})
	require.NoError(t, err)

	assert.Len(t, card.requests, 1)
	require.Len(t, portal.requests, 1)
	assert.Equal(t, domain.MethodCheque, portal.requests[0].Method)
}

func TestPaymentRouter_NoFallback(t *testing.T) {
	r := service.NewPaymentRouter(nil)

	_, err := r.ProcessPayment(t.Context(), &domain.PaymentRequest{Method: domain.MethodCash})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestRecordingProcessor(t *testing.T) {
	var recorded []*domain.Payment
	rec := recorderFunc(func(_ context.Context, p *domain.Payment) error {
		recorded = append(recorded, p)
		return nil
	})
	p := service.NewRecordingProcessor(&mockPayments{}, rec)

	payment, err := p.ProcessPayment(t.Context(), &domain.PaymentRequest{
		DeclarationID: "decl-1",
		Method:        domain.MethodCard,
		Amount:        decimal.NewFromInt(15000),
	})
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Same(t, payment, recorded[0])
}

func TestRecordingProcessor_Failures(t *testing.T) {
	t.Run("inner fails", func(t *testing.T) {
		called := false
		rec := recorderFunc(func(context.Context, *domain.Payment) error { called = true; return nil })
		p := service.NewRecordingProcessor(&mockPayments{err: errors.New("declined")}, rec)

		_, err := p.ProcessPayment(t.Context(), &domain.PaymentRequest{Method: domain.MethodCard})
		require.Error(t, err)
		assert.False(t, called)
	})

	t.Run("recorder fails", func(t *testing.T) {
		rec := recorderFunc(func(context.Context, *domain.Payment) error { return errors.New("db down") })
		p := service.NewRecordingProcessor(&mockPayments{}, rec)

		_, err := p.ProcessPayment(t.Context(), &domain.PaymentRequest{Method: domain.MethodCard})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PAY-20260114-000001")
	})
}
