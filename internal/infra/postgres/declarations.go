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
	"github.com/shopspring/decimal"
)

// ErrDeclarationPaid is returned when deleting a declaration that already
// has a payment.
var ErrDeclarationPaid = errors.New("declaration already paid")

// DeclarationStore implements port.DeclarationStore on PostgreSQL.
type DeclarationStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDeclarationStore creates a new DeclarationStore.
func NewDeclarationStore(pool *pgxpool.Pool) *DeclarationStore {
	return &DeclarationStore{pool: pool, now: time.Now}
}

// CreateDeclaration inserts a declaration and returns it with its reference.
func (s *DeclarationStore) CreateDeclaration(ctx context.Context, req *domain.CreateDeclarationRequest) (*domain.Declaration, error) {
	formsJSON, err := json.Marshal(req.Forms)
	if err != nil {
		return nil, fmt.Errorf("marshal forms: %w", err)
	}

	now := s.now().UTC()
	decl := &domain.Declaration{
		ID:         uuid.NewString(),
		Reference:  newReference("DCL", now),
		TaxTypeID:  req.TaxTypeID,
		TaxpayerID: req.TaxpayerID,
		Amount:     req.Amount,
		Forms:      req.Forms,
		UserID:     req.UserID,
		SiteCode:   req.SiteCode,
		Status:     "pending",
		CreatedAt:  now,
	}

	query := `
		INSERT INTO declarations (
			id, reference, tax_type_id, taxpayer_id, amount, forms,
			user_id, site_code, status, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`
	if _, err := s.pool.Exec(ctx, query,
		decl.ID, decl.Reference, decl.TaxTypeID, decl.TaxpayerID, decl.Amount.String(), formsJSON,
		decl.UserID, decl.SiteCode, decl.Status, decl.CreatedAt,
	); err != nil {
		return nil, &domain.ErrExternalService{Service: "declarations", Err: fmt.Errorf("insert declaration: %w", err)}
	}

	return decl, nil
}

// DeleteDeclaration removes a declaration that has no payment.
func (s *DeclarationStore) DeleteDeclaration(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &domain.ErrNotFound{Resource: "declaration", ID: id}
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM declarations d
		WHERE d.id = $1
		  AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.declaration_id = d.id)
	`, id)
	if err != nil {
		return &domain.ErrExternalService{Service: "declarations", Err: fmt.Errorf("delete declaration: %w", err)}
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM declarations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return &domain.ErrExternalService{Service: "declarations", Err: fmt.Errorf("check declaration: %w", err)}
	}
	if !exists {
		return &domain.ErrNotFound{Resource: "declaration", ID: id}
	}
	return &domain.ErrExternalService{Service: "declarations", Err: ErrDeclarationPaid}
}

// ListDeclarationsByTaxpayer returns the taxpayer's declarations, newest first.
func (s *DeclarationStore) ListDeclarationsByTaxpayer(ctx context.Context, taxpayerID string) ([]domain.Declaration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, reference, tax_type_id, taxpayer_id, amount::text, forms,
		       COALESCE(user_id, ''), COALESCE(site_code, ''), status, created_at
		FROM declarations
		WHERE taxpayer_id = $1
		ORDER BY created_at DESC
	`, taxpayerID)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "declarations", Err: fmt.Errorf("query declarations: %w", err)}
	}

	decls, err := pgx.CollectRows(rows, scanDeclaration)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "declarations", Err: err}
	}
	return decls, nil
}

func scanDeclaration(row pgx.CollectableRow) (domain.Declaration, error) {
	var (
		d         domain.Declaration
		amount    string
		formsJSON []byte
	)
	if err := row.Scan(
		&d.ID, &d.Reference, &d.TaxTypeID, &d.TaxpayerID, &amount, &formsJSON,
		&d.UserID, &d.SiteCode, &d.Status, &d.CreatedAt,
	); err != nil {
		return d, fmt.Errorf("scan declaration: %w", err)
	}

	var err error
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return d, fmt.Errorf("parse amount of %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(formsJSON, &d.Forms); err != nil {
		return d, fmt.Errorf("unmarshal forms of %s: %w", d.ID, err)
	}
	return d, nil
}
