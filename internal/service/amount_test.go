package service_test

import (
	"errors"
	"testing"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestResolveAmount_DefaultWithoutFormulas(t *testing.T) {
	res := service.ResolveAmount(t.Context(), nil, service.AmountInput{Count: 3})

	assert.True(t, res.Amount.Equal(decimal.NewFromInt(45000)), "got %s", res.Amount)
	assert.Equal(t, domain.AmountFromDefault, res.Source)
	assert.Empty(t, res.Failures)
}

func TestResolveAmount_Priority(t *testing.T) {
	byFormula := map[string]decimal.Decimal{
		"operator": decimal.NewFromInt(11000),
		"tax type": decimal.NewFromInt(22000),
		"negative": decimal.NewFromInt(-5),
	}
	calc := func(formula string, _ int) (decimal.Decimal, error) {
		if v, ok := byFormula[formula]; ok {
			return v, nil
		}
		return decimal.Zero, errors.New("cannot evaluate")
	}

	tests := []struct {
		name         string
		operator     string
		taxType      string
		want         int64
		wantSource   string
		wantFailures int
		wantCalls    []string
	}{
		{"operator wins", "operator", "tax type", 11000, domain.AmountFromOperatorFormula, 0, []string{"operator"}},
		{"operator fails", "broken", "tax type", 22000, domain.AmountFromTaxTypeFormula, 1, []string{"broken", "tax type"}},
		{"negative rejected", "negative", "tax type", 22000, domain.AmountFromTaxTypeFormula, 1, []string{"negative", "tax type"}},
		{"only tax type", "", "tax type", 22000, domain.AmountFromTaxTypeFormula, 0, []string{"tax type"}},
		{"both fail", "broken", "also broken", 30000, domain.AmountFromDefault, 2, []string{"broken", "also broken"}},
		{"none", "", "", 30000, domain.AmountFromDefault, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &mockAssistant{amount: calc}
			res := service.ResolveAmount(t.Context(), ai, service.AmountInput{
				OperatorFormula: tt.operator,
				TaxTypeFormula:  tt.taxType,
				Count:           2,
			})

			assert.True(t, res.Amount.Equal(decimal.NewFromInt(tt.want)), "got %s", res.Amount)
			assert.Equal(t, tt.wantSource, res.Source)
			assert.Len(t, res.Failures, tt.wantFailures)
			assert.Equal(t, tt.wantCalls, ai.formulas)
		})
	}
}

func TestResolveAmount_UnitOverride(t *testing.T) {
	res := service.ResolveAmount(t.Context(), nil, service.AmountInput{
		Count:      4,
		UnitAmount: decimal.RequireFromString("2500.50"),
	})
	assert.Equal(t, "10002", res.Amount.String())
}

func TestResolveAmount_AssistantErrorsFallBack(t *testing.T) {
	res := service.ResolveAmount(t.Context(), &mockAssistant{}, service.AmountInput{
		OperatorFormula: "count * 12000",
		Count:           1,
	})
	assert.Equal(t, domain.AmountFromDefault, res.Source)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(15000)))
	assert.Len(t, res.Failures, 1)
}
