package mutator

import "math"

// maxRedraws bounds the attempts to replace a duplicate random draw.
const maxRedraws = 16

// RandomBytesMutator emits byte strings of stepped lengths filled from crypto/rand.
type RandomBytesMutator struct {
	initial []byte
	min     int
	max     int
	count   int
	step    int
	index   int
	seen    map[string]struct{}
}

// NewRandomBytes creates a bounded random byte mutator.
//
// Mutation i has length min + step*i with step = round((max-min)/count),
// or a uniformly random length in [min, max] when step rounds to zero.
func NewRandomBytes(initial []byte, min, max, count int) *RandomBytesMutator {
	if max < min {
		max = min
	}
	if count <= 0 {
		count = 1
	}
	return &RandomBytesMutator{
		initial: initial,
		min:     min,
		max:     max,
		count:   count,
		step:    int(math.Round(float64(max-min) / float64(count))),
		seen:    make(map[string]struct{}, count),
	}
}

func (m *RandomBytesMutator) Kind() Kind      { return RandomBytes }
func (m *RandomBytesMutator) Initial() []byte { return m.initial }
func (m *RandomBytesMutator) Count() int      { return m.count }
func (m *RandomBytesMutator) Index() int      { return m.index }
func (m *RandomBytesMutator) Exhausted() bool { return m.index >= m.count }

// Step returns the length increment between consecutive mutations.
func (m *RandomBytesMutator) Step() int { return m.step }

// LengthAt returns the target length of mutation i.
func (m *RandomBytesMutator) LengthAt(i int) int {
	if m.step == 0 {
		return randRange(m.min, m.max)
	}
	return m.min + m.step*i
}

// Advance returns the next random byte string.
func (m *RandomBytesMutator) Advance() []byte {
	if m.Exhausted() {
		return m.initial
	}

	length := m.LengthAt(m.index)
	value := randBytes(length)
	for i := 0; i < maxRedraws; i++ {
		if _, dup := m.seen[string(value)]; !dup {
			break
		}
		value = randBytes(length)
	}
	m.seen[string(value)] = struct{}{}
	m.index++
	return value
}

// Seek moves to mutation n; values are random so only the length schedule resumes.
func (m *RandomBytesMutator) Seek(n int) {
	if n < 0 {
		n = 0
	}
	if n > m.count {
		n = m.count
	}
	m.index = n
}
