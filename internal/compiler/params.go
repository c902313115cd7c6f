package compiler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/model"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/mutator"
)

// Parameter is a flattened parameter descriptor.
type Parameter struct {
	Name          string
	Location      model.Location
	Type          string
	Format        string
	Example       any
	SchemaExample any
	Default       any
	Enum          []any
	Required      bool
}

// numericTypes maps lower-cased types and formats to the numeric category.
// Every other type or format, including unknown ones, is string-like.
var numericTypes = map[string]bool{
	"integer": true,
	"number":  true,
	"int32":   true,
	"int64":   true,
	"float":   true,
	"double":  true,
}

// Category returns the mutation category. The format takes precedence over the type.
func (p Parameter) Category() mutator.Category {
	if len(p.Enum) > 0 {
		return mutator.Enum
	}
	key := strings.ToLower(p.Format)
	if key == "" {
		key = strings.ToLower(p.Type)
	}
	if numericTypes[key] {
		return mutator.NumericLike
	}
	return mutator.StringLike
}

// Sample returns the baseline value: example, schema example, default, first
// enum member, then a type default.
func (p Parameter) Sample() any {
	switch {
	case p.Example != nil:
		return p.Example
	case p.SchemaExample != nil:
		return p.SchemaExample
	case p.Default != nil:
		return p.Default
	case len(p.Enum) > 0:
		return p.Enum[0]
	default:
		return TypeDefault(p.Type)
	}
}

// zeroByte is the sample for types without a default.
const zeroByte = "\x00"

// TypeDefault returns the generated sample for a declared type.
func TypeDefault(typ string) any {
	switch strings.ToLower(typ) {
	case "name":
		return "012"
	case "string":
		return "asd"
	case "integer":
		return 1
	case "number":
		return 667.5
	case "boolean":
		return false
	case "array":
		return []any{1, 2, 3}
	case "object":
		return map[string]any{}
	default:
		return zeroByte
	}
}

// Render converts a JSON-shaped value to the bytes sent on the wire.
func Render(v any) []byte {
	switch t := v.(type) {
	case nil:
		return []byte(zeroByte)
	case string:
		return []byte(t)
	case []byte:
		return t
	case bool:
		return []byte(strconv.FormatBool(t))
	case int:
		return []byte(strconv.Itoa(t))
	case int64:
		return []byte(strconv.FormatInt(t, 10))
	case float64:
		return []byte(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return []byte(fmt.Sprint(t))
		}
		return data
	}
}

// describe flattens a declared (non-body) parameter. OpenAPI 3 keeps type
// information under "schema"; Swagger 2 keeps it on the parameter itself.
func describe(param map[string]any, loc model.Location) Parameter {
	schema, _ := param["schema"].(map[string]any)

	p := Parameter{
		Name:     str(param["name"]),
		Location: loc,
		Required: boolean(param["required"]),
		Type:     firstString(param["type"], get(schema, "type")),
		Format:   firstString(param["format"], get(schema, "format")),
		Example:  param["example"],
		Default:  firstNonNil(param["default"], get(schema, "default")),
		Enum:     firstList(param["enum"], get(schema, "enum")),
	}
	if p.Example == nil {
		p.Example = firstExample(param["examples"])
	}
	p.SchemaExample = get(schema, "example")

	// Arrays of enumerated items fuzz like the enum itself.
	if p.Enum == nil {
		items, _ := firstNonNil(param["items"], get(schema, "items")).(map[string]any)
		p.Enum = firstList(get(items, "enum"))
	}

	if p.Type == "" {
		p.Type = "string"
	}
	return p
}

// describeProperty flattens one property of a body schema.
func describeProperty(name string, def map[string]any, loc model.Location, required bool) Parameter {
	p := Parameter{
		Name:          name,
		Location:      loc,
		Required:      required,
		Type:          firstString(def["type"]),
		Format:        firstString(def["format"]),
		SchemaExample: def["example"],
		Default:       def["default"],
		Enum:          firstList(def["enum"]),
	}
	if p.Type == "" {
		switch {
		case def["properties"] != nil:
			p.Type = "object"
		case def["items"] != nil:
			p.Type = "array"
		default:
			p.Type = "string"
		}
	}
	return p
}

func get(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func firstString(vals ...any) string {
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstList(vals ...any) []any {
	for _, v := range vals {
		if l, ok := v.([]any); ok && len(l) > 0 {
			return l
		}
	}
	return nil
}

// firstExample picks the lexicographically first OpenAPI 3 named example.
func firstExample(v any) any {
	examples, ok := v.(map[string]any)
	if !ok || len(examples) == 0 {
		return nil
	}
	var first string
	for k := range examples {
		if first == "" || k < first {
			first = k
		}
	}
	if ex, ok := examples[first].(map[string]any); ok {
		return ex["value"]
	}
	return nil
}

func stringList(v any) []string {
	l, _ := v.([]any)
	out := make([]string, 0, len(l))
	for _, item := range l {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
