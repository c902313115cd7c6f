package report

import (
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// Summary aggregates outcomes across a run.
type Summary struct {
	RunID          string      `json:"run_id,omitempty"`
	Total          int         `json:"total"`
	Passed         int         `json:"passed"`
	Failed         int         `json:"failed"`
	Errored        int         `json:"errored"`
	UniqueFailures int         `json:"unique_failures"`
	StatusCodes    map[int]int `json:"status_codes"`
	StartedAt      time.Time   `json:"started_at"`
	Duration       string      `json:"duration"`
}

// failureSet counts distinct failures in bounded memory. A false positive
// undercounts by one; it never drops the report itself.
type failureSet struct {
	filter *bloom.BloomFilter
	count  int
}

func newFailureSet(estimated uint, fpRate float64) *failureSet {
	if estimated == 0 {
		estimated = 100000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	return &failureSet{filter: bloom.NewWithEstimates(estimated, fpRate)}
}

// add records key and reports whether it was new.
func (f *failureSet) add(key string) bool {
	if f.filter.TestOrAddString(key) {
		return false
	}
	f.count++
	return true
}
