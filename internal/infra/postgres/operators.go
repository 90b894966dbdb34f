package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OperatorStore implements port.OperatorStore on PostgreSQL.
type OperatorStore struct {
	pool *pgxpool.Pool
}

// NewOperatorStore creates a new OperatorStore.
func NewOperatorStore(pool *pgxpool.Pool) *OperatorStore {
	return &OperatorStore{pool: pool}
}

// GetOperator loads an operator by id.
func (s *OperatorStore) GetOperator(ctx context.Context, id string) (*domain.Operator, error) {
	var op domain.Operator
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(site_code, ''), COALESCE(formula, ''), password_hash
		FROM operators
		WHERE id = $1
	`, id).Scan(&op.ID, &op.Name, &op.SiteCode, &op.Formula, &op.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "operator", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query operator: %w", err)
	}
	return &op, nil
}

// SaveOperator inserts or updates an operator.
func (s *OperatorStore) SaveOperator(ctx context.Context, op *domain.Operator) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operators (id, name, site_code, formula, password_hash)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			site_code = EXCLUDED.site_code,
			formula = EXCLUDED.formula,
			password_hash = EXCLUDED.password_hash
	`, op.ID, op.Name, op.SiteCode, op.Formula, op.PasswordHash)
	if err != nil {
		return fmt.Errorf("save operator: %w", err)
	}
	return nil
}
