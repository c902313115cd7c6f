package mutator

// EnumCycleMutator walks the declared enum values once, in order.
type EnumCycleMutator struct {
	initial []byte
	values  [][]byte
	index   int
}

// NewEnumCycle creates an enum mutator. The baseline defaults to the first value.
func NewEnumCycle(initial []byte, values [][]byte) *EnumCycleMutator {
	if initial == nil && len(values) > 0 {
		initial = values[0]
	}
	return &EnumCycleMutator{initial: initial, values: values}
}

func (m *EnumCycleMutator) Kind() Kind      { return EnumCycle }
func (m *EnumCycleMutator) Initial() []byte { return m.initial }
func (m *EnumCycleMutator) Count() int      { return len(m.values) }
func (m *EnumCycleMutator) Index() int      { return m.index }
func (m *EnumCycleMutator) Exhausted() bool { return m.index >= len(m.values) }

func (m *EnumCycleMutator) Advance() []byte {
	if m.Exhausted() {
		return m.initial
	}
	v := m.values[m.index]
	m.index++
	return v
}

func (m *EnumCycleMutator) Seek(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(m.values) {
		n = len(m.values)
	}
	m.index = n
}
