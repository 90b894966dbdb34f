package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Taxpayer is the profile returned by identity verification.
// It is fetched once per session and never mutated afterwards.
type Taxpayer struct {
	ID      string `json:"id"`
	NIF     string `json:"nif,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// DeclarationForm maps a field path to its scalar value.
type DeclarationForm map[string]string

// Clone returns an independent copy of the form.
func (f DeclarationForm) Clone() DeclarationForm {
	out := make(DeclarationForm, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Declaration is the server-side entity persisted at the 3→4 transition.
type Declaration struct {
	ID         string            `json:"id"`
	Reference  string            `json:"reference"`
	TaxTypeID  string            `json:"taxTypeId"`
	TaxpayerID string            `json:"taxpayerId"`
	Amount     decimal.Decimal   `json:"amount"`
	Forms      []DeclarationForm `json:"forms"`
	UserID     string            `json:"userId,omitempty"`
	SiteCode   string            `json:"siteCode,omitempty"`
	Status     string            `json:"status,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// CreateDeclarationRequest carries everything needed to persist a declaration.
type CreateDeclarationRequest struct {
	TaxTypeID  string            `json:"taxTypeId"`
	TaxpayerID string            `json:"taxpayerId"`
	Amount     decimal.Decimal   `json:"amount"`
	Forms      []DeclarationForm `json:"forms"`
	UserID     string            `json:"userId,omitempty"`
	SiteCode   string            `json:"siteCode,omitempty"`
}

// FieldError points at one missing or invalid field of one form.
type FieldError struct {
	Form    int    `json:"form"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of required-field validation.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Fields []FieldError `json:"fields,omitempty"`
}

// ScalarString renders a decoded JSON scalar as a form value.
// Composite values are rejected.
func ScalarString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
