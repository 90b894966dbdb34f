package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/port"

	"github.com/shopspring/decimal"
)

// DefaultUnitAmount is charged per declaration form when no formula applies.
var DefaultUnitAmount = decimal.NewFromInt(15000)

var errNegativeAmount = errors.New("formula produced a negative amount")

// AmountInput is everything amount resolution looks at.
type AmountInput struct {
	OperatorFormula string
	TaxTypeFormula  string
	Forms           []domain.DeclarationForm
	Count           int

	// UnitAmount overrides DefaultUnitAmount when non-zero.
	UnitAmount decimal.Decimal
}

// AmountResult is the resolved amount and where it came from. Failures
// lists the formula attempts that were skipped, in order.
type AmountResult struct {
	Amount   decimal.Decimal
	Source   string
	Failures []error
}

// ResolveAmount picks the amount due: the operator's formula, then the tax
// type's formula, then Count times the unit amount. Formulas are only ever
// evaluated by the assistant; with no assistant both are skipped.
func ResolveAmount(ctx context.Context, ai port.Assistant, in AmountInput) AmountResult {
	var res AmountResult

	attempts := []struct {
		source  string
		formula string
	}{
		{domain.AmountFromOperatorFormula, in.OperatorFormula},
		{domain.AmountFromTaxTypeFormula, in.TaxTypeFormula},
	}
	for _, a := range attempts {
		if strings.TrimSpace(a.formula) == "" || ai == nil {
			continue
		}
		amount, err := ai.ComputeAmount(ctx, a.formula, in.Forms, in.Count)
		if err == nil && amount.IsNegative() {
			err = errNegativeAmount
		}
		if err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("%s: %w", a.source, err))
			continue
		}
		res.Amount = amount
		res.Source = a.source
		return res
	}

	unit := in.UnitAmount
	if unit.IsZero() {
		unit = DefaultUnitAmount
	}
	res.Amount = unit.Mul(decimal.NewFromInt(int64(in.Count)))
	res.Source = domain.AmountFromDefault
	return res
}
