package resolver

// Properties lifts the object properties of a resolved schema so each one can
// become its own parameter. allOf members are merged in order; the first
// declaration of a property wins. The second result holds required names.
func Properties(schema map[string]any) (map[string]any, map[string]bool) {
	props := make(map[string]any)
	required := make(map[string]bool)
	collectProperties(schema, props, required, 0)
	return props, required
}

// maxSchemaDepth bounds allOf nesting.
const maxSchemaDepth = 16

func collectProperties(schema map[string]any, props map[string]any, required map[string]bool, depth int) {
	if schema == nil || depth > maxSchemaDepth {
		return
	}

	if p, ok := schema["properties"].(map[string]any); ok {
		for name, def := range p {
			if _, exists := props[name]; !exists {
				props[name] = def
			}
		}
	}

	if req, ok := schema["required"].([]any); ok {
		for _, name := range req {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	if all, ok := schema["allOf"].([]any); ok {
		for _, member := range all {
			if m, ok := member.(map[string]any); ok {
				collectProperties(m, props, required, depth+1)
			}
		}
	}

	// Arrays of objects expose the item properties.
	if len(props) == 0 {
		if items, ok := schema["items"].(map[string]any); ok {
			collectProperties(items, props, required, depth+1)
		}
	}
}

// HasUnresolved reports whether any $ref marker remains reachable in node.
func HasUnresolved(node any) bool {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok && ref != "" {
			return true
		}
		for _, child := range v {
			if HasUnresolved(child) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if HasUnresolved(child) {
				return true
			}
		}
	}
	return false
}
