// Package validation compiles the declarative object schemas used by
// validation rules into JSON Schema and reports every violation found.
package validation

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Property describes one named field of an object schema.
type Property struct {
	Type      string   `json:"type"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	Format    string   `json:"format,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Optional  bool     `json:"optional,omitempty"`
}

// Definition is the declarative form of a schema as it appears in rule configuration.
type Definition struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
}

// FieldError is a single violation, addressed by request part and field (e.g. "body.email").
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Schema is a compiled Definition. It is safe for concurrent use.
type Schema struct {
	def      Definition
	compiled *gojsonschema.Schema
}

var primitiveTypes = []string{"string", "number", "integer", "boolean"}

// Compile checks the definition and builds the JSON Schema validator.
func Compile(def Definition) (*Schema, error) {
	if def.Type == "" {
		def.Type = "object"
	}
	if def.Type != "object" {
		return nil, fmt.Errorf("schema type must be \"object\", got %q", def.Type)
	}

	props := make(map[string]any, len(def.Properties))
	required := make([]string, 0, len(def.Properties))

	for name, p := range def.Properties {
		if !slices.Contains(primitiveTypes, p.Type) {
			return nil, fmt.Errorf("property %q: unsupported type %q", name, p.Type)
		}

		node := map[string]any{"type": p.Type}
		if p.MinLength != nil {
			node["minLength"] = *p.MinLength
		}
		if p.MaxLength != nil {
			node["maxLength"] = *p.MaxLength
		}
		if p.Minimum != nil {
			node["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			node["maximum"] = *p.Maximum
		}
		if p.Format != "" {
			node["format"] = p.Format
		}
		if p.Pattern != "" {
			node["pattern"] = p.Pattern
		}
		props[name] = node

		if !p.Optional {
			required = append(required, name)
		}
	}
	slices.Sort(required)

	raw := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		raw["required"] = required
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{def: def, compiled: compiled}, nil
}

// MustCompile is Compile for statically known schemas. It panics on error.
func MustCompile(def Definition) *Schema {
	s, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks doc and returns all violations, each prefixed with part.
// A nil document is treated as an empty object so that missing fields are reported individually.
func (s *Schema) Validate(part string, doc any) ([]FieldError, error) {
	if doc == nil {
		doc = map[string]any{}
	}

	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s: %w", part, err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]FieldError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, FieldError{
			Path:    joinPath(part, fieldOf(re)),
			Message: re.Description(),
		})
	}
	return errs, nil
}

// ValidateStrings validates string maps (query, headers). Values of properties
// declared as number, integer or boolean are converted first; values that do
// not parse are left as strings and reported as type errors.
func (s *Schema) ValidateStrings(part string, values map[string]string) ([]FieldError, error) {
	doc := make(map[string]any, len(values))
	for k, v := range values {
		doc[k] = s.coerce(k, v)
	}
	return s.Validate(part, doc)
}

func (s *Schema) coerce(name, value string) any {
	p, ok := s.def.Properties[name]
	if !ok {
		return value
	}
	switch p.Type {
	case "integer":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	case "number":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

// fieldOf resolves the offending field. Required-property errors are reported
// on the parent object, so the missing property name is appended.
func fieldOf(re gojsonschema.ResultError) string {
	field := re.Field()
	if field == "(root)" {
		field = ""
	}

	if re.Type() == "required" {
		if prop, ok := re.Details()["property"].(string); ok && prop != "" {
			switch {
			case field == "":
				field = prop
			case field != prop && !strings.HasSuffix(field, "."+prop):
				field += "." + prop
			}
		}
	}
	return field
}

func joinPath(part, field string) string {
	if field == "" {
		return part
	}
	return part + "." + field
}
