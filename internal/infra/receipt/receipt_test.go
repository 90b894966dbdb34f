package receipt_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/receipt"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReceipt(preview bool) *domain.Receipt {
	r := &domain.Receipt{
		Number:               "RC-1",
		DeclarationID:        "decl-1",
		DeclarationReference: "DCL-0001",
		Issuer:               "Direction Générale des Recettes",
		IssuedAt:             time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC),
		Taxpayer:             domain.Taxpayer{Name: "Jean Kabila", Address: "Av. Lumumba 12"},
		TaxTypeName:          "Vehicle Registration",
		Amount:               decimal.NewFromInt(30000),
		Total:                decimal.NewFromInt(30000),
		Preview:              preview,
	}
	for i, plate := range []string{"AB-123", "CD-456"} {
		r.Cards = append(r.Cards, domain.Card{
			Index: i,
			Recto: domain.CardRecto{
				HolderName: "Jean Kabila",
				Plate:      plate,
				QRPayload:  plate,
				IssueDate:  "14/01/2026",
				Amount:     "15000.00",
			},
			Verso: domain.CardVerso{
				Attributes: []domain.Attribute{{Label: "Marque", Value: "Toyota"}, {Label: "Châssis", Value: "JT123"}},
				Signatory:  "Le Receveur",
				Reference:  "DCL-0001",
			},
		})
	}
	if !preview {
		r.Payment = &domain.Payment{Reference: "PAY-0001", Method: domain.MethodMobileMoney}
	}
	return r
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, receipt.NewRenderer().RenderHTML(&buf, sampleReceipt(false)))
	out := buf.String()

	assert.Contains(t, out, "@page { size: 85.6mm 54mm; margin: 0; }")
	assert.Contains(t, out, "break-after: page")
	assert.Contains(t, out, "@media print")
	assert.Contains(t, out, "classList.toggle('flipped')")
	assert.Equal(t, 2, strings.Count(out, `class="card`))
	assert.Equal(t, 1, strings.Count(out, `class="card last"`))
	assert.Contains(t, out, ".card.last .verso { page-break-after: auto; break-after: auto; }")
	assert.Contains(t, out, `class="card" data-index="0"`)
	assert.Contains(t, out, `class="card last" data-index="1"`, "only the final card skips the trailing page break")
	assert.Equal(t, 2, strings.Count(out, `src="data:image/png;base64,`))
	assert.Contains(t, out, "AB-123")
	assert.Contains(t, out, "CD-456")
	assert.Contains(t, out, "PAY-0001")
	assert.Contains(t, out, "30000.00")
	assert.NotContains(t, out, "APERÇU")
	assert.NotContains(t, out, "ZgotmplZ")
}

func TestRenderHTML_Preview(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, receipt.NewRenderer().RenderHTML(&buf, sampleReceipt(true)))
	assert.Contains(t, buf.String(), "aucun paiement enregistré")
	assert.Equal(t, 2, strings.Count(buf.String(), "APERÇU"))
}

func TestRenderHTML_EscapesValues(t *testing.T) {
	r := sampleReceipt(false)
	r.Cards[0].Recto.HolderName = "<script>alert(1)</script>"

	var buf bytes.Buffer
	require.NoError(t, receipt.NewRenderer().RenderHTML(&buf, r))
	assert.NotContains(t, buf.String(), "<script>alert(1)</script>")
}

func TestRenderPDF_OnePagePerFace(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, receipt.NewRenderer().RenderPDF(&buf, sampleReceipt(false)))

	out := buf.Bytes()
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Equal(t, 4, bytes.Count(out, []byte("<</Type /Page\n")), "recto and verso for two cards")
}
