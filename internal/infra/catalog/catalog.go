// Package catalog loads tax types and operators from a YAML file. It lets a
// site run the portal without the base API's tax type endpoint.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"gopkg.in/yaml.v3"
)

type document struct {
	TaxTypes  []domain.TaxType  `yaml:"tax_types"`
	Operators []domain.Operator `yaml:"operators"`
}

// File is an immutable, validated catalogue.
type File struct {
	taxTypes  []domain.TaxType
	operators map[string]domain.Operator
}

// Load reads and validates the catalogue at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML catalogue. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	seen := make(map[string]bool, len(doc.TaxTypes))
	for i := range doc.TaxTypes {
		tt := &doc.TaxTypes[i]
		if tt.ID == "" {
			return nil, fmt.Errorf("tax type #%d has no id", i+1)
		}
		if seen[tt.ID] {
			return nil, fmt.Errorf("duplicate tax type id %q", tt.ID)
		}
		seen[tt.ID] = true
		if err := checkFields(tt.FormSchema, ""); err != nil {
			return nil, fmt.Errorf("tax type %q: %w", tt.ID, err)
		}
		if tt.Reproduction && !tt.HasPath(tt.PlatePath()) {
			return nil, fmt.Errorf("tax type %q: plate field %q is not in the schema", tt.ID, tt.PlatePath())
		}
	}

	ops := make(map[string]domain.Operator, len(doc.Operators))
	for _, op := range doc.Operators {
		if op.ID == "" {
			return nil, fmt.Errorf("operator without id")
		}
		if _, dup := ops[op.ID]; dup {
			return nil, fmt.Errorf("duplicate operator id %q", op.ID)
		}
		ops[op.ID] = op
	}

	return &File{taxTypes: doc.TaxTypes, operators: ops}, nil
}

func checkFields(fields []domain.Field, parent string) error {
	keys := make(map[string]bool, len(fields))
	for _, f := range fields {
		path := domain.JoinPath(parent, f.Key)
		switch {
		case f.Key == "":
			return fmt.Errorf("field under %q has no key", parent)
		case keys[f.Key]:
			return fmt.Errorf("duplicate field %q", path)
		}
		keys[f.Key] = true

		switch f.Type {
		case domain.FieldText, domain.FieldNumber, domain.FieldFile, domain.FieldEmail, domain.FieldPhone:
		case domain.FieldSelect:
			if len(f.Options) == 0 {
				return fmt.Errorf("select field %q has no options", path)
			}
		default:
			return fmt.Errorf("field %q has unknown type %q", path, f.Type)
		}

		if err := checkFields(f.SubFields, path); err != nil {
			return err
		}
	}
	return nil
}

// GetTaxTypes returns a copy of the catalogue's tax types.
func (f *File) GetTaxTypes(_ context.Context) ([]domain.TaxType, error) {
	out := make([]domain.TaxType, len(f.taxTypes))
	copy(out, f.taxTypes)
	return out, nil
}

// GetOperator returns the operator with the given id.
func (f *File) GetOperator(_ context.Context, id string) (*domain.Operator, error) {
	op, ok := f.operators[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "operator", ID: id}
	}
	return &op, nil
}
