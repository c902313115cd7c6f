package model

import (
	"strings"
)

// Key identifies a template. At most one template exists per key.
type Key struct {
	Path        string
	Method      string
	ContentType string
}

// NewKey builds a key with a normalized path and upper-case method.
func NewKey(path, method, contentType string) Key {
	return Key{
		Path:        NormalizePath(path),
		Method:      strings.ToUpper(method),
		ContentType: strings.ToLower(strings.TrimSpace(contentType)),
	}
}

// String returns "METHOD /path" with the content type appended when set.
func (k Key) String() string {
	s := k.Method + " " + k.Path
	if k.ContentType != "" {
		s += " [" + k.ContentType + "]"
	}
	return s
}

// NormalizePath collapses duplicate slashes and trims a trailing slash.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// Template is a fuzzable (path, method[, content type]) combination.
// Fields are grouped by location; each group keeps declaration order.
type Template struct {
	Key Key

	groups map[Location][]*Field
	order  []*Field
	index  map[string]*Field
}

// NewTemplate creates an empty template.
func NewTemplate(key Key) *Template {
	return &Template{
		Key:    key,
		groups: make(map[Location][]*Field),
		index:  make(map[string]*Field),
	}
}

// Name returns a human-readable template name.
func (t *Template) Name() string {
	return t.Key.String()
}

// Add appends a field. It returns false when a field with the same ID exists.
func (t *Template) Add(f *Field) bool {
	if _, ok := t.index[f.ID()]; ok {
		return false
	}
	t.index[f.ID()] = f
	t.groups[f.Location] = append(t.groups[f.Location], f)
	t.order = append(t.order, f)
	return true
}

// Merge unions other's fields into t and returns how many were added.
func (t *Template) Merge(other *Template) int {
	added := 0
	for _, f := range other.order {
		if t.Add(f) {
			added++
		}
	}
	return added
}

// Fields returns all fields in declaration order.
func (t *Template) Fields() []*Field {
	return t.order
}

// Group returns the fields in one location.
func (t *Template) Group(loc Location) []*Field {
	return t.groups[loc]
}

// Field looks a field up by ID.
func (t *Template) Field(id string) *Field {
	return t.index[id]
}

// Len returns the number of fields.
func (t *Template) Len() int {
	return len(t.order)
}

// Render produces every field's value with active rendered as mutation and
// the others at their baseline.
func (t *Template) Render(active *Field, mutation []byte) map[Location][]Value {
	out := make(map[Location][]Value, len(t.groups))
	for _, loc := range Locations {
		for _, f := range t.groups[loc] {
			v := Value{Name: f.Name, Raw: f.Baseline(), Typed: f.Sample}
			if f == active {
				v = Value{Name: f.Name, Raw: mutation, Mutated: true}
			}
			out[loc] = append(out[loc], v)
		}
	}
	return out
}

// Set collects templates, merging those with identical keys.
type Set struct {
	byKey map[Key]*Template
	order []*Template
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{byKey: make(map[Key]*Template)}
}

// Add inserts t, or merges its fields into the template already holding its key.
func (s *Set) Add(t *Template) *Template {
	if existing, ok := s.byKey[t.Key]; ok {
		existing.Merge(t)
		return existing
	}
	s.byKey[t.Key] = t
	s.order = append(s.order, t)
	return t
}

// Templates returns the non-empty templates in insertion order.
func (s *Set) Templates() []*Template {
	out := make([]*Template, 0, len(s.order))
	for _, t := range s.order {
		if t.Len() > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of keys held, empty templates included.
func (s *Set) Len() int {
	return len(s.order)
}
