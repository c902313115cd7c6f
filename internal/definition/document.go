package definition

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-openapi/swag"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/errors"
)

// Version is the definition dialect.
type Version int

const (
	// Unknown means neither a "swagger" nor an "openapi" key was found.
	Unknown Version = iota
	// Swagger2 is Swagger 2.0.
	Swagger2
	// OpenAPI3 is OpenAPI 3.x.
	OpenAPI3
)

// String returns the version name.
func (v Version) String() string {
	switch v {
	case Swagger2:
		return "swagger-2.0"
	case OpenAPI3:
		return "openapi-3"
	default:
		return "unknown"
	}
}

// Document is a parsed definition plus where it came from.
type Document struct {
	Raw map[string]any
	// Source is the file path or URL as given.
	Source string
	// SourceURL is set when the document was fetched over HTTP, or when a
	// file was loaded on behalf of a known URL (used as file ref fallback).
	SourceURL string
	// BaseDir is the directory file references are relative to.
	BaseDir string
}

// Load fetches and parses the definition at source.
func Load(ctx context.Context, loader Loader, source string) (*Document, error) {
	data, err := loader.Load(ctx, source)
	if err != nil {
		return nil, errors.NewDefinitionLoadError(source, err)
	}

	raw, err := Parse(data, source)
	if err != nil {
		return nil, err
	}

	doc := &Document{Raw: raw, Source: source, BaseDir: DirPath(source)}
	if IsURL(source) {
		doc.SourceURL = source
	}
	return doc, nil
}

// Parse decodes data as JSON, then as YAML. The result is always JSON-shaped:
// maps are map[string]any and numbers are float64.
func Parse(data []byte, source string) (map[string]any, error) {
	var doc map[string]any
	jsonErr := json.Unmarshal(data, &doc)
	if jsonErr == nil {
		if doc == nil {
			return nil, errors.NewDefinitionParseError(source, fmt.Errorf("document is empty"))
		}
		return doc, nil
	}

	yamlDoc, err := swag.BytesToYAMLDoc(data)
	if err != nil {
		return nil, errors.NewDefinitionParseError(source, fmt.Errorf("json: %v; yaml: %w", jsonErr, err))
	}
	asJSON, err := swag.YAMLToJSON(yamlDoc)
	if err != nil {
		return nil, errors.NewDefinitionParseError(source, fmt.Errorf("yaml conversion: %w", err))
	}
	doc = nil
	if err := json.Unmarshal(asJSON, &doc); err != nil || doc == nil {
		return nil, errors.NewDefinitionParseError(source, fmt.Errorf("yaml document is not an object"))
	}
	return doc, nil
}

// VersionOf detects the dialect of a raw definition.
func VersionOf(raw map[string]any) Version {
	if v, ok := raw["openapi"].(string); ok && strings.HasPrefix(v, "3") {
		return OpenAPI3
	}
	if v, ok := raw["swagger"].(string); ok && strings.HasPrefix(v, "2") {
		return Swagger2
	}
	if _, ok := raw["servers"]; ok {
		return OpenAPI3
	}
	if _, ok := raw["basePath"]; ok {
		return Swagger2
	}
	return Unknown
}

// Clone deep-copies a JSON-shaped value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// SortedKeys returns the keys of m in lexicographic order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
