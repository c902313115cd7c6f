package state

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSessions = []byte("sessions")

// Store persists session state keyed by definition fingerprint.
type Store interface {
	Save(state *SessionState) error
	// Load returns nil, nil when no state exists for the fingerprint.
	Load(fingerprint string) (*SessionState, error)
	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates a BoltDB-backed state store.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Save stores the session under its fingerprint.
func (s *BoltStore) Save(state *SessionState) error {
	if state.Fingerprint == "" {
		return fmt.Errorf("session state has no fingerprint")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(state.Fingerprint), data)
	})
}

// Load returns the session stored for fingerprint.
func (s *BoltStore) Load(fingerprint string) (*SessionState, error) {
	var state *SessionState

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		data := b.Get([]byte(fingerprint))
		if data == nil {
			return nil
		}
		state = &SessionState{}
		return json.Unmarshal(data, state)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// List returns every stored session.
func (s *BoltStore) List() ([]*SessionState, error) {
	var out []*SessionState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var st SessionState
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			out = append(out, &st)
			return nil
		})
	})
	return out, err
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// FileStore implements Store with a single JSON file holding the latest session.
type FileStore struct {
	path       string
	compressed bool
}

// NewFileStore creates a file-based state store.
func NewFileStore(path string, compressed bool) *FileStore {
	if compressed {
		path += ".gz"
	}
	return &FileStore{path: path, compressed: compressed}
}

// Save overwrites the file with state.
func (s *FileStore) Save(state *SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if s.compressed {
		return s.saveCompressed(data)
	}
	return os.WriteFile(s.path, data, 0644)
}

func (s *FileStore) saveCompressed(data []byte) error {
	file, err := os.Create(s.path)
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(file)
	if _, err := gw.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Load returns the stored session when its fingerprint matches.
func (s *FileStore) Load(fingerprint string) (*SessionState, error) {
	var data []byte
	var err error

	if s.compressed {
		data, err = s.loadCompressed()
	} else {
		data, err = os.ReadFile(s.path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state.Fingerprint != fingerprint {
		return nil, nil
	}
	return &state, nil
}

func (s *FileStore) loadCompressed() ([]byte, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]SessionState
}

// NewMemoryStore creates an in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]SessionState)}
}

// Save stores a copy of state.
func (s *MemoryStore) Save(state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.Fingerprint] = *state
	return nil
}

// Load returns a copy of the stored state.
func (s *MemoryStore) Load(fingerprint string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[fingerprint]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// Open picks a store for path by extension: ".db" or ".bolt" opens BoltDB,
// ".gz" a compressed file, anything else a JSON file. An empty path keeps
// state in memory.
func Open(path string) (Store, error) {
	switch ext := filepath.Ext(path); {
	case path == "":
		return NewMemoryStore(), nil
	case ext == ".db" || ext == ".bolt":
		return NewBoltStore(path)
	case ext == ".gz":
		return NewFileStore(path[:len(path)-len(ext)], true), nil
	default:
		return NewFileStore(path, false), nil
	}
}
