// Package model holds the fuzzable request model: templates made of fields
// grouped by request location.
package model

import (
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/mutator"
)

// Location is where a parameter travels in the request.
type Location string

// Request locations.
const (
	Path     Location = "path"
	Query    Location = "query"
	Header   Location = "header"
	Cookie   Location = "cookie"
	Body     Location = "body"
	FormData Location = "formData"
)

// Locations lists every location in rendering order.
var Locations = []Location{Path, Query, Header, Cookie, Body, FormData}

// ParseLocation maps an OpenAPI "in" value to a Location.
func ParseLocation(in string) (Location, bool) {
	for _, loc := range Locations {
		if string(loc) == in {
			return loc, true
		}
	}
	return "", false
}

// Field is one mutable parameter slot bound to a mutation strategy.
// Fields never reference other fields or templates.
type Field struct {
	Name     string
	Location Location
	Category mutator.Category
	Type     string
	Format   string
	Required bool
	// Sample is the typed baseline value, kept for JSON bodies.
	Sample any

	mutator mutator.Mutator
	limit   int
}

// NewField creates a field around a mutator.
func NewField(name string, loc Location, category mutator.Category, sample any, m mutator.Mutator) *Field {
	return &Field{
		Name:     name,
		Location: loc,
		Category: category,
		Sample:   sample,
		mutator:  m,
	}
}

// ID identifies the field within its template.
func (f *Field) ID() string {
	return string(f.Location) + "|" + f.Name
}

// Mutator returns the bound strategy.
func (f *Field) Mutator() mutator.Mutator {
	return f.mutator
}

// Cap bounds an unbounded mutator to n mutations. Bounded mutators keep their count.
func (f *Field) Cap(n int) {
	f.limit = n
}

// Limit returns the number of mutations this field will produce.
func (f *Field) Limit() int {
	if c := f.mutator.Count(); c > 0 {
		return c
	}
	return f.limit
}

// Index returns the number of mutations produced so far.
func (f *Field) Index() int {
	return f.mutator.Index()
}

// Exhausted reports whether the field has no mutations left.
func (f *Field) Exhausted() bool {
	if f.mutator.Exhausted() {
		return true
	}
	return f.mutator.Index() >= f.Limit()
}

// Advance returns the next mutation.
func (f *Field) Advance() []byte {
	return f.mutator.Advance()
}

// Baseline returns the un-mutated rendering of the field.
func (f *Field) Baseline() []byte {
	return f.mutator.Initial()
}

// Seek resumes the field at mutation n.
func (f *Field) Seek(n int) {
	f.mutator.Seek(n)
}

// Value is a rendered field value.
type Value struct {
	Name    string
	Raw     []byte
	Typed   any
	Mutated bool
}

// String returns the raw value as a string.
func (v Value) String() string {
	return string(v.Raw)
}

// JSON returns the value to place in a JSON body: the typed sample for
// baseline values, the raw string for mutations.
func (v Value) JSON() any {
	if v.Mutated || v.Typed == nil {
		return string(v.Raw)
	}
	return v.Typed
}
