// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the wizard
// controller from the portal API, the AI assistant and payment providers.
package port

import (
	"context"
	"io"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"github.com/shopspring/decimal"
)

// TaxpayerVerifier looks a taxpayer up by NIF or phone number.
type TaxpayerVerifier interface {
	VerifyTaxpayer(ctx context.Context, id string) (*domain.Taxpayer, error)
}

// TaxTypeProvider supplies the declarable tax types and their form schemas.
type TaxTypeProvider interface {
	GetTaxTypes(ctx context.Context) ([]domain.TaxType, error)
}

// DeclarationStore persists declarations.
type DeclarationStore interface {
	CreateDeclaration(ctx context.Context, req *domain.CreateDeclarationRequest) (*domain.Declaration, error)
	DeleteDeclaration(ctx context.Context, id string) error
	ListDeclarationsByTaxpayer(ctx context.Context, taxpayerID string) ([]domain.Declaration, error)
}

// Assistant is the external AI service. Every call is optional from the
// wizard's point of view: failures degrade to a local fallback.
type Assistant interface {
	Prefill(ctx context.Context, taxpayer *domain.Taxpayer, taxType *domain.TaxType) (domain.DeclarationForm, error)
	ValidateRequired(ctx context.Context, forms []domain.DeclarationForm, taxType *domain.TaxType) (*domain.ValidationResult, error)
	ComputeAmount(ctx context.Context, formula string, forms []domain.DeclarationForm, count int) (decimal.Decimal, error)

	// FindDeclarationByPlate returns nil, nil when no candidate matches.
	FindDeclarationByPlate(ctx context.Context, plate string, candidates []domain.Declaration, taxType *domain.TaxType) (*domain.Declaration, error)
}

// PaymentProcessor records a payment against a declaration.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, req *domain.PaymentRequest) (*domain.Payment, error)
}

// PaymentNotifier is told about every recorded payment.
type PaymentNotifier interface {
	PaymentRecorded(ctx context.Context, payment *domain.Payment, declaration *domain.Declaration, taxpayer *domain.Taxpayer) error
}

// OperatorStore resolves portal operators for authentication.
type OperatorStore interface {
	GetOperator(ctx context.Context, id string) (*domain.Operator, error)
}

// ReceiptRenderer turns a receipt into a printable document.
type ReceiptRenderer interface {
	RenderHTML(w io.Writer, r *domain.Receipt) error
	RenderPDF(w io.Writer, r *domain.Receipt) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
