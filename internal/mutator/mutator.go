// Package mutator generates ordered sequences of malformed values for fuzz fields.
package mutator

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Category groups declared parameter types by how they are fuzzed.
type Category int

const (
	// StringLike covers strings, booleans and any unknown type or format.
	StringLike Category = iota
	// NumericLike covers integer and number types.
	NumericLike
	// Enum covers parameters declaring a closed value set.
	Enum
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case NumericLike:
		return "numeric"
	case Enum:
		return "enum"
	default:
		return "string"
	}
}

// Kind identifies a concrete mutation strategy.
type Kind int

const (
	// Auto lets the factory pick a strategy for the category.
	Auto Kind = iota
	// RandomBytes emits random byte strings of stepped lengths.
	RandomBytes
	// UnicodeWalk emits runs of consecutive code points.
	UnicodeWalk
	// UTF8Chars emits non-canonical UTF-8 encodings.
	UTF8Chars
	// EnumCycle walks the declared enum values once.
	EnumCycle
)

var kindNames = map[Kind]string{
	Auto:        "auto",
	RandomBytes: "random-bytes",
	UnicodeWalk: "unicode-walk",
	UTF8Chars:   "utf8-chars",
	EnumCycle:   "enum",
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind parses a kind name as produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Auto, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return Auto, fmt.Errorf("unknown mutator kind %q", s)
}

// kindsFor lists the strategies the factory may pick for a category.
var kindsFor = map[Category][]Kind{
	StringLike:  {RandomBytes, UnicodeWalk, UTF8Chars},
	NumericLike: {RandomBytes, UnicodeWalk},
	Enum:        {EnumCycle},
}

// Mutator produces an ordered sequence of malformed values.
type Mutator interface {
	// Kind returns the strategy identifier.
	Kind() Kind
	// Initial returns the baseline value used while the field is not mutated.
	Initial() []byte
	// Advance returns the next mutation. After exhaustion it returns Initial.
	Advance() []byte
	// Exhausted reports whether the sequence has ended.
	Exhausted() bool
	// Count returns the number of mutations, or 0 when unbounded.
	Count() int
	// Index returns the number of mutations produced so far.
	Index() int
	// Seek moves the sequence to position n, used when resuming a session.
	Seek(n int)
}

// Options configures the factory.
type Options struct {
	Kind          Kind   // Forces a strategy for non-enum fields; Auto picks one
	Seed          string // Stable field identity; Auto picks from its hash, or at random when empty
	MinLength     int
	MaxLength     int
	MutationCount int
}

// DefaultOptions returns the default mutation parameters.
func DefaultOptions() Options {
	return Options{
		Kind:          Auto,
		MinLength:     20,
		MaxLength:     100,
		MutationCount: 80,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MinLength <= 0 {
		o.MinLength = d.MinLength
	}
	if o.MaxLength < o.MinLength {
		o.MaxLength = o.MinLength
	}
	if o.MutationCount <= 0 {
		o.MutationCount = d.MutationCount
	}
	return o
}

// pick chooses a strategy for a field. A seeded choice is the same on every
// compile of the same definition, which keeps session totals and resume
// positions stable.
func pick(kinds []Kind, seed string) Kind {
	if seed == "" {
		return kinds[randIntn(len(kinds))]
	}
	h := fnv.New64a()
	h.Write([]byte(seed))
	return kinds[h.Sum64()%uint64(len(kinds))]
}

// New returns a strategy for a field of the given category.
// Enum fields without values are fuzzed as strings.
func New(category Category, sample []byte, enum [][]byte, opts Options) Mutator {
	opts = opts.normalized()

	if category == Enum {
		if len(enum) > 0 {
			return NewEnumCycle(sample, enum)
		}
		category = StringLike
	}

	kind := opts.Kind
	if kind == Auto || kind == EnumCycle {
		kind = pick(kindsFor[category], opts.Seed)
	}

	switch kind {
	case UnicodeWalk:
		return NewUnicodeWalk(sample, opts.MinLength, opts.MaxLength)
	case UTF8Chars:
		return NewUTF8Chars(sample, opts.MinLength, opts.MaxLength)
	default:
		return NewRandomBytes(sample, opts.MinLength, opts.MaxLength, opts.MutationCount)
	}
}
