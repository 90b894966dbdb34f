package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const provider = "postgres"

// PaymentStore records payments. For counter methods (cash, mobile money,
// cheque, bank deposit) recording is the whole processing.
type PaymentStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPaymentStore creates a new PaymentStore.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool, now: time.Now}
}

// ProcessPayment records a counter payment and issues its reference.
func (s *PaymentStore) ProcessPayment(ctx context.Context, req *domain.PaymentRequest) (*domain.Payment, error) {
	now := s.now().UTC()
	p := &domain.Payment{
		ID:            uuid.NewString(),
		Reference:     newReference("PAY", now),
		DeclarationID: req.DeclarationID,
		Method:        req.Method,
		Amount:        req.Amount,
		Penalties:     req.Penalties,
		Total:         req.Total(),
		Fields:        req.Fields,
		Provider:      provider,
		PaidAt:        now,
	}
	if err := s.RecordPayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordPayment stores a payment settled elsewhere, e.g. a card charge, and
// marks its declaration paid in the same transaction. Provider identifiers
// that are not UUIDs go to provider_ref and the row gets its own id.
func (s *PaymentStore) RecordPayment(ctx context.Context, p *domain.Payment) error {
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now().UTC()
	}
	args, err := paymentRow(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (
			id, reference, declaration_id, method, amount, penalties, total,
			fields, provider, provider_ref, paid_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11)
	`
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return &domain.ErrExternalService{Service: "payments", Err: fmt.Errorf("insert payment: %w", err)}
		}
		if _, err := tx.Exec(ctx, `UPDATE declarations SET status = 'paid' WHERE id = $1`, p.DeclarationID); err != nil {
			return &domain.ErrExternalService{Service: "payments", Err: fmt.Errorf("mark declaration paid: %w", err)}
		}
		return nil
	})
	var ext *domain.ErrExternalService
	if err != nil && !errors.As(err, &ext) {
		return &domain.ErrExternalService{Service: "payments", Err: fmt.Errorf("record payment: %w", err)}
	}
	return err
}

// paymentRow normalises p for the payments table and returns the insert
// arguments in column order.
func paymentRow(p *domain.Payment) ([]any, error) {
	if _, err := uuid.Parse(p.ID); err != nil {
		if p.ProviderRef == "" {
			p.ProviderRef = p.ID
		}
		p.ID = uuid.NewString()
	}
	fieldsJSON := []byte("{}")
	if p.Fields != nil {
		var err error
		if fieldsJSON, err = json.Marshal(p.Fields); err != nil {
			return nil, fmt.Errorf("marshal payment fields: %w", err)
		}
	}
	return []any{
		p.ID, p.Reference, p.DeclarationID, string(p.Method),
		p.Amount.String(), p.Penalties.String(), p.Total.String(),
		fieldsJSON, p.Provider, p.ProviderRef, p.PaidAt,
	}, nil
}
