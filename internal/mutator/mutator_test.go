package mutator

import (
	"bytes"
	"testing"
	"unicode/utf8"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNew_EnumCategory(t *testing.T) {
	m := New(Enum, nil, [][]byte{[]byte("a"), []byte("b")}, DefaultOptions())
	if m.Kind() != EnumCycle {
		t.Errorf("Kind() = %v, want enum", m.Kind())
	}
	if string(m.Initial()) != "a" {
		t.Errorf("Initial() = %q, want first enum value", m.Initial())
	}
}

func TestNew_EmptyEnumFallsBackToString(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := New(Enum, []byte("x"), nil, DefaultOptions())
		if m.Kind() == EnumCycle {
			t.Fatal("empty enum should not produce an enum mutator")
		}
	}
}

func TestNew_PicksFromCategory(t *testing.T) {
	allowed := map[Kind]bool{RandomBytes: true, UnicodeWalk: true}
	for i := 0; i < 50; i++ {
		m := New(NumericLike, []byte("1"), nil, DefaultOptions())
		if !allowed[m.Kind()] {
			t.Fatalf("numeric field got kind %v", m.Kind())
		}
	}
}

func TestNew_SeededChoiceIsStable(t *testing.T) {
	seen := map[Kind]bool{}
	for i := 0; i < 64; i++ {
		opts := DefaultOptions()
		opts.Seed = "GET /items query|q" + string(rune('a'+i%26)) + string(rune('a'+i/26))

		first := New(StringLike, []byte("asd"), nil, opts).Kind()
		for j := 0; j < 5; j++ {
			if got := New(StringLike, []byte("asd"), nil, opts).Kind(); got != first {
				t.Fatalf("seed %q: kind %v then %v", opts.Seed, first, got)
			}
		}
		seen[first] = true
	}
	if len(seen) < 2 {
		t.Errorf("64 seeds all mapped to %v, want a spread of kinds", seen)
	}
}

func TestNew_ForcedKind(t *testing.T) {
	tests := []Kind{RandomBytes, UnicodeWalk, UTF8Chars}
	for _, kind := range tests {
		opts := DefaultOptions()
		opts.Kind = kind
		m := New(StringLike, []byte("asd"), nil, opts)
		if m.Kind() != kind {
			t.Errorf("forced %v, got %v", kind, m.Kind())
		}
	}
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseKind(name)
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", name, got, err, k)
		}
	}
	if got, err := ParseKind(""); err != nil || got != Auto {
		t.Errorf("ParseKind(\"\") = %v, %v; want auto", got, err)
	}
	if _, err := ParseKind("bogus"); err == nil {
		t.Error("ParseKind(bogus) should fail")
	}
}

func TestCategory_String(t *testing.T) {
	if StringLike.String() != "string" || NumericLike.String() != "numeric" || Enum.String() != "enum" {
		t.Error("unexpected category names")
	}
}

// =============================================================================
// RandomBytes Tests
// =============================================================================

func TestRandomBytes_ExhaustsAfterCount(t *testing.T) {
	m := NewRandomBytes([]byte("sample"), 20, 100, 80)

	if m.Step() != 1 {
		t.Errorf("Step() = %d, want 1", m.Step())
	}

	seen := make(map[string]bool)
	for i := 0; i < 80; i++ {
		if m.Exhausted() {
			t.Fatalf("exhausted early after %d advances", i)
		}
		v := m.Advance()
		if len(v) != 20+i {
			t.Errorf("mutation %d length = %d, want %d", i, len(v), 20+i)
		}
		seen[string(v)] = true
	}

	if !m.Exhausted() {
		t.Error("should be exhausted after 80 advances")
	}
	if len(seen) != 80 {
		t.Errorf("got %d distinct values, want 80", len(seen))
	}
	if m.Index() != 80 || m.Count() != 80 {
		t.Errorf("Index/Count = %d/%d, want 80/80", m.Index(), m.Count())
	}
	if !bytes.Equal(m.Advance(), []byte("sample")) {
		t.Error("Advance() after exhaustion should return the initial value")
	}
}

func TestRandomBytes_StepRounding(t *testing.T) {
	tests := []struct {
		min, max, count int
		step            int
	}{
		{20, 100, 80, 1},
		{0, 100, 40, 3}, // 2.5 rounds away from zero
		{10, 20, 100, 0},
		{5, 5, 3, 0},
	}

	for _, tt := range tests {
		m := NewRandomBytes(nil, tt.min, tt.max, tt.count)
		if m.Step() != tt.step {
			t.Errorf("step(%d,%d,%d) = %d, want %d", tt.min, tt.max, tt.count, m.Step(), tt.step)
		}
	}
}

func TestRandomBytes_ZeroStepUsesRandomLengths(t *testing.T) {
	m := NewRandomBytes(nil, 10, 20, 100)
	for !m.Exhausted() {
		v := m.Advance()
		if len(v) < 10 || len(v) > 20 {
			t.Fatalf("length %d outside [10,20]", len(v))
		}
	}
}

func TestRandomBytes_Seek(t *testing.T) {
	m := NewRandomBytes(nil, 20, 100, 80)
	m.Seek(79)
	if len(m.Advance()) != 99 {
		t.Error("Seek should resume the length schedule")
	}
	if !m.Exhausted() {
		t.Error("should be exhausted")
	}
	m.Seek(500)
	if m.Index() != 80 {
		t.Errorf("Seek past the end should clamp, got %d", m.Index())
	}
}

// =============================================================================
// Unicode Tests
// =============================================================================

func TestEncodeRaw(t *testing.T) {
	for _, cp := range []int{0, 0x41, 0x7FF, 0x800, 0xFFFD, 0x10000, MaxCodePoint} {
		got := encodeRaw(nil, cp)
		want := utf8.AppendRune(nil, rune(cp))
		if !bytes.Equal(got, want) {
			t.Errorf("encodeRaw(%#x) = %x, want %x", cp, got, want)
		}
	}

	if got := encodeRaw(nil, 0xD800); !bytes.Equal(got, []byte{0xED, 0xA0, 0x80}) {
		t.Errorf("encodeRaw(0xD800) = %x, want eda080", got)
	}
}

func TestUnicodeWalk_Runs(t *testing.T) {
	m := NewUnicodeWalk([]byte("asd"), 3, 5)
	m.position = 0x41

	v := m.Advance()
	n := utf8.RuneCount(v)
	if n < 3 || n > 5 {
		t.Fatalf("run length %d outside [3,5]", n)
	}
	if v[0] != 'A' || v[1] != 'B' || v[2] != 'C' {
		t.Errorf("run should start at the position: %q", v)
	}
	if m.Position() != 0x41+n {
		t.Errorf("Position() = %#x, want %#x", m.Position(), 0x41+n)
	}
	if m.Exhausted() || m.Count() != 0 {
		t.Error("walker is unbounded")
	}
}

func TestUnicodeWalk_Wraps(t *testing.T) {
	m := NewUnicodeWalk(nil, 4, 4)
	m.position = MaxCodePoint - 1

	v := m.Advance()
	if len(v) != 8 { // two 4-byte code points before the end of the space
		t.Errorf("len = %d, want 8", len(v))
	}
	if m.Position() <= MaxCodePoint {
		t.Fatalf("position should pass the maximum, got %#x", m.Position())
	}

	m.Advance()
	if m.Wraps() != 1 {
		t.Errorf("Wraps() = %d, want 1", m.Wraps())
	}
	if m.Index() != 2 {
		t.Errorf("Index() = %d, want 2", m.Index())
	}
}

func TestUTF8Chars_NonCanonical(t *testing.T) {
	m := NewUTF8Chars(nil, 1, 3)
	for i := 0; i < utf8Forms*2; i++ {
		v := m.Advance()
		if len(v) == 0 {
			t.Fatal("empty value")
		}
		if utf8.Valid(v) {
			t.Errorf("form %d produced valid UTF-8: %x", i%utf8Forms, v)
		}
	}
	if m.Index() != utf8Forms*2 {
		t.Errorf("Index() = %d", m.Index())
	}
}

// =============================================================================
// Enum Tests
// =============================================================================

func TestEnumCycle(t *testing.T) {
	values := [][]byte{[]byte("available"), []byte("pending"), []byte("sold")}
	m := NewEnumCycle([]byte("pending"), values)

	if string(m.Initial()) != "pending" {
		t.Errorf("Initial() = %q", m.Initial())
	}

	for i, want := range values {
		if m.Exhausted() {
			t.Fatalf("exhausted after %d", i)
		}
		if got := m.Advance(); !bytes.Equal(got, want) {
			t.Errorf("Advance() #%d = %q, want %q", i, got, want)
		}
	}
	if !m.Exhausted() {
		t.Error("should be exhausted after one cycle")
	}

	m.Seek(1)
	if string(m.Advance()) != "pending" {
		t.Error("Seek(1) should resume at the second value")
	}
}

func TestRandIntn(t *testing.T) {
	counts := make([]int, 4)
	for i := 0; i < 400; i++ {
		v := randIntn(4)
		if v < 0 || v >= 4 {
			t.Fatalf("randIntn(4) = %d", v)
		}
		counts[v]++
	}
	for i, c := range counts {
		if c == 0 {
			t.Errorf("value %d never drawn", i)
		}
	}
	if randIntn(1) != 0 || randIntn(0) != 0 {
		t.Error("randIntn of n<=1 should be 0")
	}
}
