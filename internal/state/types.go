package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/sequencer"
)

// Counters are the verdict totals carried across resumes.
type Counters struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// SessionState is the persisted form of a fuzz session.
type SessionState struct {
	RunID       string             `json:"run_id"`
	Source      string             `json:"source"`
	Fingerprint string             `json:"fingerprint"`
	BaseURL     string             `json:"base_url"`
	Ceiling     int                `json:"ceiling"`
	Total       int                `json:"total"`
	Position    sequencer.Position `json:"position"`
	Counters    Counters           `json:"counters"`
	Completed   bool               `json:"completed"`
	StartedAt   time.Time          `json:"started_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Fingerprint identifies a resolved definition. Positions are only valid
// against templates compiled from a definition with the same fingerprint.
func Fingerprint(def map[string]any) (string, error) {
	// encoding/json sorts map keys, so equal documents hash equally.
	data, err := json.Marshal(def)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
