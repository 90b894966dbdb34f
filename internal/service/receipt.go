package service

import (
	"errors"
	"strings"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"github.com/google/uuid"
)

// IssueDateLayout is the date printed on the cards.
const IssueDateLayout = "02/01/2006"

var errNoDeclaration = errors.New("session has no declaration")

// BuildReceipt assembles the printable receipt for the session's declaration.
// Without a payment the receipt is a preview.
func BuildReceipt(s *domain.Session, issuer string, now time.Time) (*domain.Receipt, error) {
	if s.Declaration == nil || s.TaxType == nil {
		return nil, errNoDeclaration
	}

	var taxpayer domain.Taxpayer
	if s.Taxpayer != nil {
		taxpayer = *s.Taxpayer
	}

	r := &domain.Receipt{
		Number:               uuid.NewString(),
		DeclarationID:        s.Declaration.ID,
		DeclarationReference: s.Declaration.Reference,
		Issuer:               issuer,
		IssuedAt:             now,
		Taxpayer:             taxpayer,
		TaxTypeName:          s.TaxType.Name,
		Amount:               s.Declaration.Amount,
		Total:                s.Declaration.Amount,
		Preview:              s.Payment == nil,
	}
	reference := s.Declaration.Reference
	issued := now
	if s.Payment != nil {
		r.Payment = s.Payment
		r.Penalties = s.Payment.Penalties
		r.Total = s.Payment.Total
		if s.Payment.Reference != "" {
			reference = reference + " / " + s.Payment.Reference
		}
		if !s.Payment.PaidAt.IsZero() {
			issued = s.Payment.PaidAt
		}
	}

	signatory := issuer
	if s.Operator != nil && s.Operator.Name != "" {
		signatory = s.Operator.Name
	}

	forms := s.Declaration.Forms
	if len(forms) == 0 {
		forms = s.Forms
	}
	platePath := s.TaxType.PlatePath()
	for i, form := range forms {
		plate := strings.TrimSpace(form[platePath])
		r.Cards = append(r.Cards, domain.Card{
			Index: i + 1,
			Recto: domain.CardRecto{
				HolderName: taxpayer.Name,
				Address:    taxpayer.Address,
				Plate:      plate,
				QRPayload:  plate,
				IssueDate:  issued.Format(IssueDateLayout),
				Amount:     r.Total.StringFixed(0),
			},
			Verso: domain.CardVerso{
				Attributes: cardAttributes(s.TaxType, form, platePath),
				Signatory:  signatory,
				Reference:  reference,
			},
		})
	}
	return r, nil
}

func cardAttributes(tt *domain.TaxType, form domain.DeclarationForm, platePath string) []domain.Attribute {
	var out []domain.Attribute
	domain.VisitActive(tt.FormSchema, form, func(path string, f *domain.Field) {
		if path == platePath || f.Type == domain.FieldFile {
			return
		}
		value := strings.TrimSpace(form[path])
		if value == "" {
			return
		}
		label := f.Label
		if label == "" {
			label = f.Key
		}
		out = append(out, domain.Attribute{Label: label, Value: value})
	})
	return out
}
