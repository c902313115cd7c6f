// Package state persists fuzz session progress so interrupted runs can resume.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/sequencer"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/transmitter"
)

// DefaultCheckpointEvery is how many recorded tests pass between saves.
const DefaultCheckpointEvery = 25

// Manager tracks session progress and checkpoints it to a Store.
type Manager struct {
	mu      sync.Mutex
	store   Store
	every   int
	pending int
	state   *SessionState
}

// NewManager creates a state manager. A nil store keeps state in memory.
func NewManager(store Store, every int) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if every <= 0 {
		every = DefaultCheckpointEvery
	}
	return &Manager{store: store, every: every}
}

// Session describes the run being started.
type Session struct {
	Fingerprint string
	Source      string
	BaseURL     string
	Total       int
	Ceiling     int
}

// Begin starts tracking a run. With resume set, an unfinished session saved
// for the same definition and sequence shape is returned and the second
// result is true; otherwise a fresh session with a new run ID begins.
func (m *Manager) Begin(s Session, resume bool) (*SessionState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resume {
		prev, err := m.store.Load(s.Fingerprint)
		if err != nil {
			return nil, false, fmt.Errorf("loading session state: %w", err)
		}
		if prev != nil && !prev.Completed && prev.Total == s.Total && prev.Ceiling == s.Ceiling {
			m.state = prev
			st := *prev
			return &st, true, nil
		}
	}

	now := time.Now()
	m.state = &SessionState{
		RunID:       uuid.NewString(),
		Source:      s.Source,
		Fingerprint: s.Fingerprint,
		BaseURL:     s.BaseURL,
		Total:       s.Total,
		Ceiling:     s.Ceiling,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	st := *m.state
	return &st, false, nil
}

// Record counts a finished test and advances the saved position. The state
// is checkpointed every N records.
func (m *Manager) Record(pos sequencer.Position, status transmitter.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return fmt.Errorf("session not started")
	}

	switch status {
	case transmitter.Passed:
		m.state.Counters.Passed++
	case transmitter.Failed:
		m.state.Counters.Failed++
	default:
		m.state.Counters.Errored++
	}
	// Workers may finish out of order; keep the furthest cursor.
	if pos.Number >= m.state.Position.Number {
		m.state.Position = pos
	}

	m.pending++
	if m.pending < m.every {
		return nil
	}
	return m.saveLocked()
}

// Checkpoint saves the current state, moving the cursor to pos when it is
// further along.
func (m *Manager) Checkpoint(pos sequencer.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil
	}
	if pos.Number >= m.state.Position.Number {
		m.state.Position = pos
	}
	return m.saveLocked()
}

// Complete marks the session finished and saves it.
func (m *Manager) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil
	}
	m.state.Completed = true
	return m.saveLocked()
}

// State returns a copy of the tracked state.
func (m *Manager) State() (SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return SessionState{}, false
	}
	return *m.state, true
}

// Load returns the stored state for a fingerprint without tracking it.
func (m *Manager) Load(fingerprint string) (*SessionState, error) {
	return m.store.Load(fingerprint)
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) saveLocked() error {
	m.pending = 0
	m.state.UpdatedAt = time.Now()
	if err := m.store.Save(m.state); err != nil {
		return fmt.Errorf("saving session state: %w", err)
	}
	return nil
}
