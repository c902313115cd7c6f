package model

import (
	"testing"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/mutator"
)

func newStringField(name string, loc Location, sample string) *Field {
	m := mutator.NewRandomBytes([]byte(sample), 1, 4, 3)
	return NewField(name, loc, mutator.StringLike, sample, m)
}

// =============================================================================
// Key Tests
// =============================================================================

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/pet/{id}", "/pet/{id}"},
		{"pet", "/pet"},
		{"//pet//find/", "/pet/find"},
		{"/", "/"},
		{"", "/"},
	}

	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKey_String(t *testing.T) {
	k := NewKey("/pet/", "post", "Application/JSON")
	if k.String() != "POST /pet [application/json]" {
		t.Errorf("String() = %q", k.String())
	}
	if NewKey("/pet", "get", "").String() != "GET /pet" {
		t.Error("key without content type should omit brackets")
	}
}

// =============================================================================
// Field Tests
// =============================================================================

func TestField_IDAndLimit(t *testing.T) {
	f := newStringField("id", Path, "1")
	if f.ID() != "path|id" {
		t.Errorf("ID() = %q", f.ID())
	}
	if f.Limit() != 3 {
		t.Errorf("bounded Limit() = %d, want 3", f.Limit())
	}

	f.Cap(10)
	if f.Limit() != 3 {
		t.Error("Cap must not change a bounded mutator's count")
	}

	walker := NewField("q", Query, mutator.StringLike, "asd", mutator.NewUnicodeWalk([]byte("asd"), 1, 2))
	if !walker.Exhausted() {
		t.Error("an uncapped unbounded field has nothing to produce")
	}
	walker.Cap(2)
	walker.Advance()
	if walker.Exhausted() {
		t.Error("should have one mutation left")
	}
	walker.Advance()
	if !walker.Exhausted() {
		t.Error("should be exhausted at the cap")
	}
}

func TestValue_JSON(t *testing.T) {
	base := Value{Name: "n", Raw: []byte("1"), Typed: 1}
	if base.JSON() != 1 {
		t.Errorf("baseline JSON() = %v, want typed 1", base.JSON())
	}
	mut := Value{Name: "n", Raw: []byte("xx"), Mutated: true, Typed: 1}
	if mut.JSON() != "xx" {
		t.Errorf("mutated JSON() = %v, want raw string", mut.JSON())
	}
	if (Value{Raw: []byte("r")}).JSON() != "r" {
		t.Error("untyped values render raw")
	}
}

func TestParseLocation(t *testing.T) {
	for _, loc := range Locations {
		if got, ok := ParseLocation(string(loc)); !ok || got != loc {
			t.Errorf("ParseLocation(%q) = %q, %v", loc, got, ok)
		}
	}
	if _, ok := ParseLocation("matrix"); ok {
		t.Error("unknown location should not parse")
	}
}

// =============================================================================
// Template Tests
// =============================================================================

func TestTemplate_AddIsPartition(t *testing.T) {
	tpl := NewTemplate(NewKey("/pet", "get", ""))

	if !tpl.Add(newStringField("id", Query, "1")) {
		t.Fatal("first add should succeed")
	}
	if tpl.Add(newStringField("id", Query, "2")) {
		t.Error("duplicate ID should be rejected")
	}
	if !tpl.Add(newStringField("id", Header, "3")) {
		t.Error("same name in another location is a distinct field")
	}

	if tpl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tpl.Len())
	}
	if len(tpl.Group(Query)) != 1 || len(tpl.Group(Header)) != 1 {
		t.Error("each field belongs to exactly one group")
	}
	if tpl.Field("header|id") == nil {
		t.Error("Field() lookup failed")
	}
}

func TestSet_MergesIdenticalKeys(t *testing.T) {
	s := NewSet()

	a := NewTemplate(NewKey("/pet", "get", ""))
	a.Add(newStringField("status", Query, "x"))
	b := NewTemplate(NewKey("/pet/", "GET", ""))
	b.Add(newStringField("tags", Query, "y"))
	b.Add(newStringField("status", Query, "z"))

	s.Add(a)
	merged := s.Add(b)

	if merged != a {
		t.Fatal("second template should merge into the first")
	}
	templates := s.Templates()
	if len(templates) != 1 {
		t.Fatalf("got %d templates, want 1", len(templates))
	}
	if templates[0].Len() != 2 {
		t.Errorf("merged field count = %d, want 2 (union)", templates[0].Len())
	}
	if templates[0].Field("query|status").Sample != "x" {
		t.Error("the first declaration of a field wins")
	}
}

func TestSet_DropsEmptyTemplates(t *testing.T) {
	s := NewSet()
	s.Add(NewTemplate(NewKey("/empty", "get", "")))
	full := NewTemplate(NewKey("/full", "get", ""))
	full.Add(newStringField("q", Query, "1"))
	s.Add(full)

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if got := s.Templates(); len(got) != 1 || got[0] != full {
		t.Errorf("Templates() = %v, want only the non-empty one", got)
	}
}

func TestTemplate_Render(t *testing.T) {
	tpl := NewTemplate(NewKey("/pet/{id}", "get", ""))
	id := newStringField("id", Path, "5")
	q := newStringField("q", Query, "asd")
	tpl.Add(id)
	tpl.Add(q)

	values := tpl.Render(q, []byte("MUTATED"))

	if got := values[Path][0]; got.String() != "5" || got.Mutated {
		t.Errorf("path value = %+v, want baseline 5", got)
	}
	if got := values[Query][0]; got.String() != "MUTATED" || !got.Mutated {
		t.Errorf("query value = %+v, want mutation", got)
	}
}
