package mutator

// MaxCodePoint is the last Unicode code point.
const MaxCodePoint = 0x10FFFF

// encodeRaw encodes cp with the UTF-8 bit layout without rejecting surrogates,
// which utf8.EncodeRune would replace with U+FFFD.
func encodeRaw(dst []byte, cp int) []byte {
	switch {
	case cp < 0x80:
		return append(dst, byte(cp))
	case cp < 0x800:
		return append(dst, 0xC0|byte(cp>>6), 0x80|byte(cp&0x3F))
	case cp < 0x10000:
		return append(dst, 0xE0|byte(cp>>12), 0x80|byte((cp>>6)&0x3F), 0x80|byte(cp&0x3F))
	default:
		return append(dst, 0xF0|byte(cp>>18), 0x80|byte((cp>>12)&0x3F),
			0x80|byte((cp>>6)&0x3F), 0x80|byte(cp&0x3F))
	}
}

// UnicodeWalkMutator walks the code-point space in contiguous runs.
// It never exhausts; callers impose a cap.
type UnicodeWalkMutator struct {
	initial  []byte
	min      int
	max      int
	position int
	index    int
	wraps    int
}

// NewUnicodeWalk creates a walker starting at a random code point.
func NewUnicodeWalk(initial []byte, min, max int) *UnicodeWalkMutator {
	if min <= 0 {
		min = 1
	}
	if max < min {
		max = min
	}
	return &UnicodeWalkMutator{
		initial:  initial,
		min:      min,
		max:      max,
		position: randIntn(MaxCodePoint + 1),
	}
}

func (m *UnicodeWalkMutator) Kind() Kind      { return UnicodeWalk }
func (m *UnicodeWalkMutator) Initial() []byte { return m.initial }
func (m *UnicodeWalkMutator) Count() int      { return 0 }
func (m *UnicodeWalkMutator) Index() int      { return m.index }
func (m *UnicodeWalkMutator) Exhausted() bool { return false }

// Position returns the next code point to be emitted.
func (m *UnicodeWalkMutator) Position() int { return m.position }

// Wraps returns how often the walk restarted at a random position.
func (m *UnicodeWalkMutator) Wraps() int { return m.wraps }

// Advance emits the next run of code points.
func (m *UnicodeWalkMutator) Advance() []byte {
	if m.position > MaxCodePoint {
		m.position = randIntn(MaxCodePoint + 1)
		m.wraps++
	}

	run := randRange(m.min, m.max)
	out := make([]byte, 0, run*4)
	end := m.position + run
	for cp := m.position; cp < end && cp <= MaxCodePoint; cp++ {
		out = encodeRaw(out, cp)
	}

	m.position = end
	m.index++
	return out
}

// Seek records the resumed index; the walk position restarts at random.
func (m *UnicodeWalkMutator) Seek(n int) {
	if n < 0 {
		n = 0
	}
	m.index = n
}

// UTF8CharsMutator emits code points in non-canonical encodings: overlong
// forms, lone surrogates and CESU-8 surrogate pairs. It never exhausts.
type UTF8CharsMutator struct {
	initial []byte
	min     int
	max     int
	index   int
}

// NewUTF8Chars creates a non-canonical UTF-8 mutator. Each value holds
// between min and max encoded characters.
func NewUTF8Chars(initial []byte, min, max int) *UTF8CharsMutator {
	if min <= 0 {
		min = 1
	}
	if max < min {
		max = min
	}
	return &UTF8CharsMutator{initial: initial, min: min, max: max}
}

func (m *UTF8CharsMutator) Kind() Kind      { return UTF8Chars }
func (m *UTF8CharsMutator) Initial() []byte { return m.initial }
func (m *UTF8CharsMutator) Count() int      { return 0 }
func (m *UTF8CharsMutator) Index() int      { return m.index }
func (m *UTF8CharsMutator) Exhausted() bool { return false }

func (m *UTF8CharsMutator) Seek(n int) {
	if n < 0 {
		n = 0
	}
	m.index = n
}

// utf8Forms is the number of encodings cycled through by UTF8CharsMutator.
const utf8Forms = 5

// Advance emits the next value. The encoding form rotates with the index.
func (m *UTF8CharsMutator) Advance() []byte {
	form := m.index % utf8Forms
	n := randRange(m.min, m.max)
	out := make([]byte, 0, n*6)
	for i := 0; i < n; i++ {
		out = appendNonCanonical(out, form)
	}
	m.index++
	return out
}

func appendNonCanonical(dst []byte, form int) []byte {
	switch form {
	case 0: // overlong 2-byte ASCII
		c := randIntn(0x80)
		return append(dst, 0xC0|byte(c>>6), 0x80|byte(c&0x3F))
	case 1: // overlong 3-byte ASCII
		c := randIntn(0x80)
		return append(dst, 0xE0, 0x80|byte(c>>6), 0x80|byte(c&0x3F))
	case 2: // overlong 4-byte ASCII
		c := randIntn(0x80)
		return append(dst, 0xF0, 0x80, 0x80|byte(c>>6), 0x80|byte(c&0x3F))
	case 3: // lone surrogate
		return encodeRaw(dst, 0xD800+randIntn(0x800))
	default: // CESU-8 pair for a supplementary code point
		cp := 0x10000 + randIntn(MaxCodePoint-0x10000+1)
		v := cp - 0x10000
		dst = encodeRaw(dst, 0xD800+(v>>10))
		return encodeRaw(dst, 0xDC00+(v&0x3FF))
	}
}
