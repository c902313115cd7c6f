// Package sequencer walks compiled templates one field mutation at a time.
package sequencer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/model"
)

// ErrExhausted is returned by Next when every field of every template has
// been mutated.
var ErrExhausted = errors.New("fuzz session exhausted")

// DefaultCeiling caps mutators that never exhaust on their own.
const DefaultCeiling = 100

// TestCase is one rendered request: a single field mutated, the rest at baseline.
type TestCase struct {
	Number   int
	Template *model.Template
	Field    *model.Field
	Mutation []byte
	Values   map[model.Location][]model.Value
	Position Position
}

// Position is the resumable cursor of a session.
type Position struct {
	Template int `json:"template"`
	Field    int `json:"field"`
	Mutation int `json:"mutation"`
	Number   int `json:"number"`
}

// Session drives test case generation. Next is safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	templates []*model.Template
	ceiling   int
	total     int

	template int
	field    int
	number   int
}

// New creates a session. Unbounded fields are capped at ceiling
// (DefaultCeiling when ceiling <= 0).
func New(templates []*model.Template, ceiling int) *Session {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	s := &Session{templates: templates, ceiling: ceiling}
	for _, t := range templates {
		for _, f := range t.Fields() {
			f.Cap(ceiling)
			s.total += f.Limit()
		}
	}
	return s
}

// Next returns the next test case, or ErrExhausted.
func (s *Session) Next() (*TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.template < len(s.templates) {
		tpl := s.templates[s.template]
		fields := tpl.Fields()
		if s.field >= len(fields) {
			s.template++
			s.field = 0
			continue
		}

		f := fields[s.field]
		if f.Exhausted() {
			s.field++
			continue
		}

		mutation := f.Advance()
		s.number++
		return &TestCase{
			Number:   s.number,
			Template: tpl,
			Field:    f,
			Mutation: mutation,
			Values:   tpl.Render(f, mutation),
			Position: Position{
				Template: s.template,
				Field:    s.field,
				Mutation: f.Index(),
				Number:   s.number,
			},
		}, nil
	}
	return nil, ErrExhausted
}

// Total returns the number of test cases the session produces.
func (s *Session) Total() int {
	return s.total
}

// Ceiling returns the cap applied to unbounded fields.
func (s *Session) Ceiling() int {
	return s.ceiling
}

// Templates returns the templates being walked.
func (s *Session) Templates() []*model.Template {
	return s.templates
}

// CurrentIndex returns the number of test cases produced so far.
func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.number
}

// SequenceString describes the cursor, e.g.
// "template 2/7 GET /pet/{id} field 1/3 query|status mutation 14/80".
func (s *Session) SequenceString() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.template >= len(s.templates) {
		return fmt.Sprintf("done %d/%d", s.number, s.total)
	}
	tpl := s.templates[s.template]
	fields := tpl.Fields()
	if s.field >= len(fields) {
		return fmt.Sprintf("template %d/%d %s", s.template+1, len(s.templates), tpl.Name())
	}
	f := fields[s.field]
	return fmt.Sprintf("template %d/%d %s field %d/%d %s mutation %d/%d",
		s.template+1, len(s.templates), tpl.Name(),
		s.field+1, len(fields), f.ID(),
		f.Index(), f.Limit())
}

// Position returns the current cursor.
func (s *Session) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Position{Template: s.template, Field: s.field, Number: s.number}
	if s.template < len(s.templates) {
		if fields := s.templates[s.template].Fields(); s.field < len(fields) {
			p.Mutation = fields[s.field].Index()
		}
	}
	return p
}

// Restore moves the session to p. Templates must be compiled from the same
// definition as when p was taken.
func (s *Session) Restore(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Template < 0 || p.Template > len(s.templates) || p.Field < 0 || p.Number < 0 {
		return fmt.Errorf("position %+v out of range for %d templates", p, len(s.templates))
	}
	if p.Template < len(s.templates) {
		fields := s.templates[p.Template].Fields()
		if p.Field > len(fields) {
			return fmt.Errorf("field %d out of range for %s", p.Field, s.templates[p.Template].Name())
		}
		if p.Field < len(fields) {
			fields[p.Field].Seek(p.Mutation)
		}
	}

	s.template = p.Template
	s.field = p.Field
	s.number = p.Number
	return nil
}
