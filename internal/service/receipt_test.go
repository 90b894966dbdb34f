package service_test

import (
	"testing"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReceipt_Preview(t *testing.T) {
	tt := vehicleRegistration()
	form := completeForm("1234AB01")
	form["usage"] = "commercial"
	form["usage_licence"] = "LIC-9"
	form["email"] = ""
	s := &domain.Session{
		Taxpayer: &domain.Taxpayer{Name: "Jean Mukendi", Address: "Kinshasa"},
		TaxType:  &tt,
		Operator: &domain.Operator{Name: "Agent Kinshasa"},
		Declaration: &domain.Declaration{
			ID:        "decl-1",
			Reference: "DCL-1",
			Amount:    decimal.NewFromInt(15000),
			Forms:     []domain.DeclarationForm{form},
		},
	}

	r, err := service.BuildReceipt(s, "DGR", fixedNow)
	require.NoError(t, err)

	assert.True(t, r.Preview)
	assert.NotEmpty(t, r.Number)
	assert.Equal(t, "Vehicle Registration", r.TaxTypeName)
	require.Len(t, r.Cards, 1)

	card := r.Cards[0]
	assert.Equal(t, 1, card.Index)
	assert.Equal(t, "Jean Mukendi", card.Recto.HolderName)
	assert.Equal(t, "1234AB01", card.Recto.QRPayload)
	assert.Equal(t, "14/01/2026", card.Recto.IssueDate)
	assert.Equal(t, "15000", card.Recto.Amount)
	assert.Equal(t, "Agent Kinshasa", card.Verso.Signatory)
	assert.Equal(t, "DCL-1", card.Verso.Reference)
	assert.Equal(t, []domain.Attribute{
		{Label: "Owner", Value: "Jean Mukendi"},
		{Label: "Usage", Value: "commercial"},
		{Label: "Licence", Value: "LIC-9"},
		{Label: "Seats", Value: "5"},
	}, card.Verso.Attributes)
}

func TestBuildReceipt_Paid(t *testing.T) {
	tt := vehicleRegistration()
	paidAt := fixedNow.AddDate(0, 0, -1)
	s := &domain.Session{
		Taxpayer: &domain.Taxpayer{Name: "Jean"},
		TaxType:  &tt,
		Declaration: &domain.Declaration{
			Reference: "DCL-1",
			Amount:    decimal.NewFromInt(15000),
			Forms:     []domain.DeclarationForm{completeForm("A"), completeForm("B")},
		},
		Payment: &domain.Payment{
			Reference: "PAY-1",
			Penalties: decimal.NewFromInt(1000),
			Total:     decimal.NewFromInt(16000),
			PaidAt:    paidAt,
		},
	}

	r, err := service.BuildReceipt(s, "DGR", fixedNow)
	require.NoError(t, err)

	assert.False(t, r.Preview)
	assert.True(t, r.Total.Equal(decimal.NewFromInt(16000)))
	require.Len(t, r.Cards, 2)
	assert.Equal(t, "16000", r.Cards[1].Recto.Amount)
	assert.Equal(t, "13/01/2026", r.Cards[1].Recto.IssueDate)
	assert.Equal(t, "DCL-1 / PAY-1", r.Cards[1].Verso.Reference)
	assert.Equal(t, "DGR", r.Cards[1].Verso.Signatory)
}

func TestBuildReceipt_NeedsDeclaration(t *testing.T) {
	_, err := service.BuildReceipt(&domain.Session{}, "DGR", fixedNow)
	assert.Error(t, err)
}
