package field

import "fmt"

// Type is the schema type of a field.
type Type string

// Field type constants.
const (
	String      Type = "string"
	StringArray Type = "string[]"
	Int32       Type = "int32"
	Int64       Type = "int64"
	Float       Type = "float"
	Bool        Type = "bool"
	Geopoint    Type = "geopoint"
)

var validTypes = map[Type]bool{
	String: true, StringArray: true, Int32: true, Int64: true,
	Float: true, Bool: true, Geopoint: true,
}

// Field is an immutable value object describing a schema field.
type Field struct {
	name      string
	fieldType Type
	facet     bool
	optional  bool
}

// New validates and creates a Field.
// Name must be non-empty and at most 64 chars.
func New(name string, ft Type, facet, optional bool) (Field, error) {
	if name == "" {
		return Field{}, fmt.Errorf("field name is required")
	}
	if len(name) > 64 {
		return Field{}, fmt.Errorf("field name %q too long (max 64)", name)
	}
	if !validTypes[ft] {
		return Field{}, fmt.Errorf("invalid field type %q for %q", ft, name)
	}
	return Field{name: name, fieldType: ft, facet: facet, optional: optional}, nil
}

// Reconstruct creates a Field without validation (storage hydration).
func Reconstruct(name string, ft Type, facet, optional bool) Field {
	return Field{name: name, fieldType: ft, facet: facet, optional: optional}
}

// Name returns the field name.
func (f Field) Name() string { return f.name }

// FieldType returns the field's schema type.
func (f Field) FieldType() Type { return f.fieldType }

// Facet reports whether facet counts are computed for this field.
func (f Field) Facet() bool { return f.facet }

// Optional reports whether documents may omit this field.
func (f Field) Optional() bool { return f.optional }

// IsText reports whether the field participates in token search.
func (f Field) IsText() bool {
	return f.fieldType == String || f.fieldType == StringArray
}

// IsNumeric reports whether the field holds a single numeric value.
func (f Field) IsNumeric() bool {
	return f.fieldType == Int32 || f.fieldType == Int64 || f.fieldType == Float
}

// IsGeo reports whether the field holds a geopoint.
func (f Field) IsGeo() bool { return f.fieldType == Geopoint }

// Accepts reports whether a raw query token is a legal value for the field.
// Used by curation placeholder binding.
func (f Field) Accepts(value string) bool {
	switch f.fieldType {
	case Int32, Int64:
		return isInteger(value)
	case Float:
		return isNumber(value)
	case Bool:
		return value == "true" || value == "false"
	case String, StringArray:
		return value != ""
	default:
		return false
	}
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' {
		if len(s) == 1 {
			return false
		}
		start = 1
	}
	for i := start; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isNumber(s string) bool {
	dots := 0
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' {
		if len(s) == 1 {
			return false
		}
		start = 1
	}
	for i := start; i < len(s); i++ {
		if s[i] == '.' {
			dots++
			if dots > 1 {
				return false
			}
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
