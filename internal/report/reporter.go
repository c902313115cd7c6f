package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/sequencer"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/transmitter"
)

// Config holds reporter configuration.
type Config struct {
	// Dir receives one JSON file per non-passing test. Empty disables files.
	Dir   string
	RunID string
	// Stream, when set, receives every report as a JSON line.
	Stream *StreamWriter
	// ExpectedFailures sizes the unique failure filter.
	ExpectedFailures uint
}

// Reporter turns outcomes into reports. Record is safe for concurrent use.
type Reporter struct {
	config Config
	log    *logger.Logger

	mu       sync.Mutex
	summary  Summary
	failures *failureSet
	cases    []caseEntry
}

// New creates a reporter, creating the report directory if needed.
func New(config Config, log *logger.Logger) (*Reporter, error) {
	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating report directory: %w", err)
		}
	}
	return &Reporter{
		config:   config,
		log:      logger.OrNop(log).WithComponent("report"),
		failures: newFailureSet(config.ExpectedFailures, 0),
		summary: Summary{
			RunID:       config.RunID,
			StatusCodes: make(map[int]int),
			StartedAt:   time.Now(),
		},
	}, nil
}

// Record builds the report for an outcome and persists it when the test did
// not pass.
func (r *Reporter) Record(tc *sequencer.TestCase, out *transmitter.Outcome) (*Report, error) {
	rep := Build(tc, out)
	rep.RunID = r.config.RunID

	var filename string
	var writeErr error
	if !rep.Passed() && r.config.Dir != "" {
		filename, writeErr = r.write(rep)
		if writeErr != nil {
			r.log.ErrorEvent(writeErr, rep.RequestURL, "write report")
		}
	}

	r.mu.Lock()
	r.summary.Total++
	switch rep.Status {
	case transmitter.Passed:
		r.summary.Passed++
	case transmitter.Failed:
		r.summary.Failed++
	default:
		r.summary.Errored++
	}
	if rep.ParsedStatusCode != 0 {
		r.summary.StatusCodes[rep.ParsedStatusCode]++
	}
	if !rep.Passed() && r.failures.add(rep.FailureKey()) {
		r.summary.UniqueFailures = r.failures.count
	}
	r.cases = append(r.cases, caseFromReport(rep, filename))
	r.mu.Unlock()

	if r.config.Stream != nil {
		if err := r.config.Stream.WriteReport(rep); err != nil && writeErr == nil {
			writeErr = err
		}
	}
	return rep, writeErr
}

// Filename returns the report filename for a test number at time t.
func Filename(testNumber int, t time.Time) string {
	return fmt.Sprintf("%d_%d.%06d.json", testNumber, t.Unix(), t.Nanosecond()/1000)
}

func (r *Reporter) write(rep *Report) (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report %d: %w", rep.TestNumber, err)
	}
	name := Filename(rep.TestNumber, rep.Timestamp)
	path := filepath.Join(r.config.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report %d: %w", rep.TestNumber, err)
	}
	r.log.Debugf("report written to %s", path)
	return name, nil
}

// Summary returns a snapshot of the aggregated counters.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.summary
	s.StatusCodes = make(map[int]int, len(r.summary.StatusCodes))
	for code, n := range r.summary.StatusCodes {
		s.StatusCodes[code] = n
	}
	s.Duration = time.Since(s.StartedAt).Round(time.Millisecond).String()
	return s
}

// WriteJUnit writes every recorded test as a JUnit XML document.
func (r *Reporter) WriteJUnit(path string) error {
	sum := r.Summary()

	r.mu.Lock()
	cases := make([]caseEntry, len(r.cases))
	copy(cases, r.cases)
	r.mu.Unlock()

	doc := buildJUnit("OpenAPIFuzzer", cases, sum)
	if err := writeJUnitFile(path, doc); err != nil {
		return fmt.Errorf("writing junit report: %w", err)
	}
	r.log.Infof("junit report written to %s", path)
	return nil
}

// Close writes the summary to the stream, if any, and closes it.
func (r *Reporter) Close() error {
	if r.config.Stream == nil {
		return nil
	}
	if err := r.config.Stream.WriteSummary(r.Summary()); err != nil {
		return err
	}
	return r.config.Stream.Close()
}
