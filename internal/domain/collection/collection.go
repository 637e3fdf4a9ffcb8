package collection

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kailas-cloud/textdex/internal/domain/collection/field"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Schema is the collection schema aggregate (immutable value object). It
// declares the indexed fields and the optional default sorting field used as
// the implicit final ranking tie-break.
type Schema struct {
	name                string
	fields              []field.Field
	defaultSortingField string
	createdAt           int64
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("collection name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("collection name too long (max 64)")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("collection name must be alphanumeric with underscores and hyphens")
	}
	return nil
}

func validateFields(fields []field.Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("at least one field is required")
	}
	if len(fields) > 64 {
		return fmt.Errorf("too many fields (max 64)")
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name()] {
			return fmt.Errorf("duplicate field name: %s", f.Name())
		}
		seen[f.Name()] = true
	}
	return nil
}

// New validates and creates a Schema. The default sorting field, when
// declared, must exist and be a single-valued numeric field; absence is
// permitted and changes ranking tie-break rules.
func New(name string, fields []field.Field, defaultSortingField string) (Schema, error) {
	if err := validateName(name); err != nil {
		return Schema{}, err
	}
	if err := validateFields(fields); err != nil {
		return Schema{}, err
	}

	if defaultSortingField != "" {
		var found *field.Field
		for i := range fields {
			if fields[i].Name() == defaultSortingField {
				found = &fields[i]
				break
			}
		}
		if found == nil {
			return Schema{}, fmt.Errorf("default sorting field `%s` not found in the schema", defaultSortingField)
		}
		if !found.IsNumeric() {
			return Schema{}, fmt.Errorf("default sorting field `%s` must be a single valued numeric field", defaultSortingField)
		}
	}

	return Schema{
		name:                name,
		fields:              fields,
		defaultSortingField: defaultSortingField,
		createdAt:           time.Now().Unix(),
	}, nil
}

// Reconstruct creates a Schema without validation (storage hydration).
func Reconstruct(name string, fields []field.Field, defaultSortingField string, createdAt int64) Schema {
	return Schema{
		name:                name,
		fields:              fields,
		defaultSortingField: defaultSortingField,
		createdAt:           createdAt,
	}
}

// Name returns the collection name.
func (s Schema) Name() string { return s.name }

// Fields returns the schema field definitions.
func (s Schema) Fields() []field.Field { return s.fields }

// DefaultSortingField returns the implicit tie-break field, or "".
func (s Schema) DefaultSortingField() string { return s.defaultSortingField }

// CreatedAt returns the creation timestamp (unix seconds).
func (s Schema) CreatedAt() int64 { return s.createdAt }

// FieldByName looks up a field by name.
func (s Schema) FieldByName(name string) (field.Field, bool) {
	for _, f := range s.fields {
		if f.Name() == name {
			return f, true
		}
	}
	return field.Field{}, false
}

// HasField reports whether a field with the given name exists.
func (s Schema) HasField(name string) bool {
	_, ok := s.FieldByName(name)
	return ok
}
