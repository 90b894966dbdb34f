package service

import (
	"regexp"
	"slices"
	"strings"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Field error messages shown next to the offending input.
const (
	MsgMissing       = "missing"
	MsgInvalidNumber = "must be a non-negative number"
	MsgInvalidEmail  = "invalid email address"
	MsgInvalidPhone  = "invalid phone number"
	MsgInvalidOption = "not one of the allowed options"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]{6,20}$`)
)

// optionalFieldNames are never reported missing, whatever the schema says.
var optionalFieldNames = []string{"email", "numéro telephone 2"}

// LocalValidator checks declaration forms against their schema without
// calling out to the assistant.
type LocalValidator struct{}

// NewLocalValidator creates a LocalValidator.
func NewLocalValidator() *LocalValidator {
	return &LocalValidator{}
}

// IsOptional reports whether f is exempt from the required check. The key
// (underscores read as spaces) and the label are compared case-folded.
func (v *LocalValidator) IsOptional(f *domain.Field) bool {
	fold := cases.Fold()
	candidates := []string{f.Key, strings.ReplaceAll(f.Key, "_", " "), f.Label}
	for _, c := range candidates {
		c = fold.String(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		for _, name := range optionalFieldNames {
			if c == fold.String(name) {
				return true
			}
		}
	}
	return false
}

// Validate runs the required and format checks over every active field of
// every form. Errors come back in form order, then schema order.
func (v *LocalValidator) Validate(forms []domain.DeclarationForm, tt *domain.TaxType) *domain.ValidationResult {
	missing := v.Missing(forms, tt)
	invalid := v.Invalid(forms, tt)
	return mergeFieldErrors(missing, invalid)
}

// Missing lists required active fields left empty.
func (v *LocalValidator) Missing(forms []domain.DeclarationForm, tt *domain.TaxType) []domain.FieldError {
	var out []domain.FieldError
	for i, form := range forms {
		domain.VisitActive(tt.FormSchema, form, func(path string, f *domain.Field) {
			if !f.Required || v.IsOptional(f) {
				return
			}
			if strings.TrimSpace(form[path]) == "" {
				out = append(out, domain.FieldError{Form: i, Path: path, Message: MsgMissing})
			}
		})
	}
	return out
}

// Invalid lists active fields whose non-empty value fails its type check.
func (v *LocalValidator) Invalid(forms []domain.DeclarationForm, tt *domain.TaxType) []domain.FieldError {
	var out []domain.FieldError
	for i, form := range forms {
		domain.VisitActive(tt.FormSchema, form, func(path string, f *domain.Field) {
			value := strings.TrimSpace(form[path])
			if value == "" {
				return
			}
			if msg := checkFormat(f, value); msg != "" {
				out = append(out, domain.FieldError{Form: i, Path: path, Message: msg})
			}
		})
	}
	return out
}

// FilterReported drops assistant-reported errors that point at optional
// fields or at paths the schema does not have.
func (v *LocalValidator) FilterReported(reported []domain.FieldError, forms []domain.DeclarationForm, tt *domain.TaxType) []domain.FieldError {
	var out []domain.FieldError
	for _, e := range reported {
		if e.Form < 0 || e.Form >= len(forms) {
			continue
		}
		f := tt.FieldAt(e.Path)
		if f == nil || v.IsOptional(f) {
			continue
		}
		if e.Message == "" {
			e.Message = MsgMissing
		}
		out = append(out, e)
	}
	return out
}

func checkFormat(f *domain.Field, value string) string {
	switch f.Type {
	case domain.FieldNumber:
		d, err := decimal.NewFromString(strings.ReplaceAll(value, ",", "."))
		if err != nil || d.IsNegative() {
			return MsgInvalidNumber
		}
	case domain.FieldEmail:
		if !emailPattern.MatchString(value) {
			return MsgInvalidEmail
		}
	case domain.FieldPhone:
		if !phonePattern.MatchString(value) {
			return MsgInvalidPhone
		}
	case domain.FieldSelect:
		if len(f.Options) > 0 && !slices.ContainsFunc(f.Options, func(o string) bool {
			return strings.EqualFold(strings.TrimSpace(o), value)
		}) {
			return MsgInvalidOption
		}
	}
	return ""
}

// mergeFieldErrors keeps the first message per (form, path) and orders the
// result by form index, preserving discovery order inside a form.
func mergeFieldErrors(lists ...[]domain.FieldError) *domain.ValidationResult {
	type key struct {
		form int
		path string
	}
	seen := map[key]bool{}
	var all []domain.FieldError
	for _, l := range lists {
		for _, e := range l {
			k := key{e.Form, e.Path}
			if seen[k] {
				continue
			}
			seen[k] = true
			all = append(all, e)
		}
	}
	slices.SortStableFunc(all, func(a, b domain.FieldError) int {
		return a.Form - b.Form
	})
	return &domain.ValidationResult{Valid: len(all) == 0, Fields: all}
}
