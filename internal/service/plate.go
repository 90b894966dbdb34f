package service

import (
	"strings"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
)

// NormalizePlate upper-cases a plate number and strips spaces and dashes.
func NormalizePlate(plate string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(plate) {
		switch r {
		case ' ', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MatchPlate returns the first candidate with a form whose plate field
// normalizes to the same value as plate, along with that form's index.
func MatchPlate(plate string, candidates []domain.Declaration, platePath string) (*domain.Declaration, int) {
	want := NormalizePlate(plate)
	if want == "" {
		return nil, -1
	}
	for i := range candidates {
		if idx := formWithPlate(&candidates[i], want, platePath); idx >= 0 {
			return &candidates[i], idx
		}
	}
	return nil, -1
}

func formWithPlate(d *domain.Declaration, normalized, platePath string) int {
	for i, form := range d.Forms {
		if NormalizePlate(form[platePath]) == normalized {
			return i
		}
	}
	return -1
}

// formFromDeclaration copies the fields of the matched form that exist in
// the target schema. The plate field is always set.
func formFromDeclaration(d *domain.Declaration, plate string, tt *domain.TaxType) domain.DeclarationForm {
	platePath := tt.PlatePath()
	out := domain.DeclarationForm{}

	idx := formWithPlate(d, NormalizePlate(plate), platePath)
	if idx < 0 && len(d.Forms) > 0 {
		idx = 0
	}
	if idx >= 0 {
		for k, v := range d.Forms[idx] {
			if tt.HasPath(k) {
				out[k] = v
			}
		}
	}
	if strings.TrimSpace(out[platePath]) == "" {
		out[platePath] = strings.TrimSpace(plate)
	}
	return out
}
