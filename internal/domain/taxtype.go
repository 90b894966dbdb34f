package domain

import "strings"

// FieldType tags a schema node.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldSelect FieldType = "select"
	FieldFile   FieldType = "file"
	FieldEmail  FieldType = "email"
	FieldPhone  FieldType = "phone"
)

// PathSeparator joins a parent key and a child key into a field path.
const PathSeparator = "_"

// Field is one node of a tax type's form schema. SubFields are rendered
// under their parent and become active when ShowWhen is empty or the
// parent's value is one of ShowWhen.
type Field struct {
	Type      FieldType `json:"type" yaml:"type"`
	Key       string    `json:"key" yaml:"key"`
	Label     string    `json:"label,omitempty" yaml:"label,omitempty"`
	Required  bool      `json:"required" yaml:"required"`
	Options   []string  `json:"options,omitempty" yaml:"options,omitempty"`
	ShowWhen  []string  `json:"showWhen,omitempty" yaml:"show_when,omitempty"`
	SubFields []Field   `json:"subFields,omitempty" yaml:"sub_fields,omitempty"`
}

// TaxType describes a declarable tax and the form collected for it.
type TaxType struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	FormSchema    []Field `json:"formSchema" yaml:"form_schema"`
	AmountFormula string  `json:"amountFormula,omitempty" yaml:"amount_formula,omitempty"`

	// Reproduction marks the card-reproduction tax type: one declaration,
	// located from the taxpayer's history by plate number.
	Reproduction bool `json:"reproduction,omitempty" yaml:"reproduction,omitempty"`

	// PlateField is the schema path holding the plate number.
	PlateField string `json:"plateField,omitempty" yaml:"plate_field,omitempty"`
}

// DefaultPlateField is used when a tax type does not name its plate path.
const DefaultPlateField = "plate_number"

// PlatePath returns the path of the plate number field.
func (t *TaxType) PlatePath() string {
	if t.PlateField != "" {
		return t.PlateField
	}
	return DefaultPlateField
}

// JoinPath composes a nested field path.
func JoinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + PathSeparator + key
}

// Active reports whether f's sub-fields are shown for the given parent value.
func (f *Field) Active(value string) bool {
	if len(f.ShowWhen) == 0 {
		return true
	}
	for _, v := range f.ShowWhen {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}

// VisitActive walks the schema depth-first in declaration order, calling fn
// for every field that is currently shown given the form values.
func VisitActive(fields []Field, form DeclarationForm, fn func(path string, f *Field)) {
	visitActive(fields, "", form, fn)
}

func visitActive(fields []Field, parent string, form DeclarationForm, fn func(string, *Field)) {
	for i := range fields {
		f := &fields[i]
		path := JoinPath(parent, f.Key)
		fn(path, f)
		if len(f.SubFields) > 0 && f.Active(form[path]) {
			visitActive(f.SubFields, path, form, fn)
		}
	}
}

// Paths returns every path of the schema, shown or not.
func (t *TaxType) Paths() []string {
	var out []string
	var walk func(fields []Field, parent string)
	walk = func(fields []Field, parent string) {
		for _, f := range fields {
			p := JoinPath(parent, f.Key)
			out = append(out, p)
			walk(f.SubFields, p)
		}
	}
	walk(t.FormSchema, "")
	return out
}

// FieldAt returns the schema node at path, or nil.
func (t *TaxType) FieldAt(path string) *Field {
	var found *Field
	var walk func(fields []Field, parent string)
	walk = func(fields []Field, parent string) {
		for i := range fields {
			if found != nil {
				return
			}
			p := JoinPath(parent, fields[i].Key)
			if p == path {
				found = &fields[i]
				return
			}
			walk(fields[i].SubFields, p)
		}
	}
	walk(t.FormSchema, "")
	return found
}

// HasPath reports whether path names a schema field.
func (t *TaxType) HasPath(path string) bool {
	return t.FieldAt(path) != nil
}
