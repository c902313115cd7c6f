// Package metrics collects run-time counters for a fuzz run.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/errors"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/transmitter"
)

// bucketBounds are the upper bounds, in milliseconds, of the response time
// histogram. The last bucket is open-ended.
var bucketBounds = [...]int64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

const numBuckets = len(bucketBounds) + 1

// Collector aggregates counters. All methods are safe for concurrent use.
type Collector struct {
	requestsTotal atomic.Int64
	retriesTotal  atomic.Int64
	bytesTotal    atomic.Int64
	repairedTotal atomic.Int64

	passed  atomic.Int64
	failed  atomic.Int64
	errored atomic.Int64

	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64
	responseBuckets  [numBuckets]atomic.Int64

	activeWorkers atomic.Int64
	testsTotal    atomic.Int64

	mu          sync.RWMutex
	errorCounts map[string]int64
	statusCodes map[int]int64

	startTime time.Time
}

// New creates a collector.
func New() *Collector {
	return &Collector{
		errorCounts: make(map[string]int64),
		statusCodes: make(map[int]int64),
		startTime:   time.Now(),
	}
}

// RecordOutcome folds a transmitted test case into the counters.
func (c *Collector) RecordOutcome(out *transmitter.Outcome) {
	if out == nil {
		return
	}

	switch out.Status {
	case transmitter.Passed:
		c.passed.Add(1)
	case transmitter.Failed:
		c.failed.Add(1)
	default:
		c.errored.Add(1)
	}

	if out.Attempts > 0 {
		c.requestsTotal.Add(int64(out.Attempts))
		c.retriesTotal.Add(int64(out.Attempts - 1))
		c.RecordResponseTime(out.Duration)
	}
	c.repairedTotal.Add(int64(len(out.Repaired)))

	if out.Response != nil {
		c.bytesTotal.Add(int64(out.Response.Size))
		c.RecordStatusCode(out.Response.StatusCode)
	}
	if out.Err != nil {
		c.RecordError(errors.GetErrorType(out.Err).String())
	}
}

// RecordError counts an error by type.
func (c *Collector) RecordError(errorType string) {
	c.mu.Lock()
	c.errorCounts[errorType]++
	c.mu.Unlock()
}

// RecordStatusCode counts a response status.
func (c *Collector) RecordStatusCode(code int) {
	c.mu.Lock()
	c.statusCodes[code]++
	c.mu.Unlock()
}

// RecordResponseTime adds a response time to the histogram.
func (c *Collector) RecordResponseTime(d time.Duration) {
	ms := d.Milliseconds()
	c.responseTimesSum.Add(ms)
	c.responseTimesNum.Add(1)
	c.responseBuckets[bucket(ms)].Add(1)
}

func bucket(ms int64) int {
	for i, bound := range bucketBounds {
		if ms < bound {
			return i
		}
	}
	return numBuckets - 1
}

// SetActiveWorkers sets the number of busy workers.
func (c *Collector) SetActiveWorkers(n int64) {
	c.activeWorkers.Store(n)
}

// AddActiveWorkers adjusts the number of busy workers.
func (c *Collector) AddActiveWorkers(delta int64) {
	c.activeWorkers.Add(delta)
}

// SetTestsTotal sets the expected number of test cases.
func (c *Collector) SetTestsTotal(n int64) {
	c.testsTotal.Store(n)
}

// AverageResponseTime returns the mean response time.
func (c *Collector) AverageResponseTime() time.Duration {
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(c.responseTimesSum.Load()/num) * time.Millisecond
}

// Snapshot returns a point-in-time view of all counters.
func (c *Collector) Snapshot() *Snapshot {
	uptime := time.Since(c.startTime)
	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              uptime,
		TestsTotal:          c.testsTotal.Load(),
		Passed:              c.passed.Load(),
		Failed:              c.failed.Load(),
		Errored:             c.errored.Load(),
		RequestsTotal:       c.requestsTotal.Load(),
		RetriesTotal:        c.retriesTotal.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		RepairedTotal:       c.repairedTotal.Load(),
		ActiveWorkers:       c.activeWorkers.Load(),
		AverageResponseTime: c.AverageResponseTime(),
		ErrorCounts:         make(map[string]int64),
		StatusCodes:         make(map[int]int64),
		ResponseTimeHist:    make([]int64, numBuckets),
	}
	if secs := uptime.Seconds(); secs > 0 {
		s.RequestsPerSecond = float64(s.RequestsTotal) / secs
	}

	c.mu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v
	}
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v
	}
	c.mu.RUnlock()

	for i := range c.responseBuckets {
		s.ResponseTimeHist[i] = c.responseBuckets[i].Load()
	}
	return s
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	TestsTotal          int64            `json:"tests_total"`
	Passed              int64            `json:"passed"`
	Failed              int64            `json:"failed"`
	Errored             int64            `json:"errored"`
	RequestsTotal       int64            `json:"requests_total"`
	RetriesTotal        int64            `json:"retries_total"`
	BytesTotal          int64            `json:"bytes_total"`
	RepairedTotal       int64            `json:"repaired_total"`
	ActiveWorkers       int64            `json:"active_workers"`
	RequestsPerSecond   float64          `json:"requests_per_second"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
	ResponseTimeHist    []int64          `json:"response_time_histogram"`
}

// Done returns the number of recorded test cases.
func (s *Snapshot) Done() int64 {
	return s.Passed + s.Failed + s.Errored
}

// FailureRate returns the share of recorded tests that did not pass.
func (s *Snapshot) FailureRate() float64 {
	done := s.Done()
	if done == 0 {
		return 0
	}
	return float64(s.Failed+s.Errored) / float64(done)
}

// Summary returns the snapshot as log fields.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.Round(time.Millisecond).String(),
		"tests_total":          s.TestsTotal,
		"tests_done":           s.Done(),
		"passed":               s.Passed,
		"failed":               s.Failed,
		"errored":              s.Errored,
		"failure_rate":         s.FailureRate(),
		"requests_total":       s.RequestsTotal,
		"retries_total":        s.RetriesTotal,
		"repaired_total":       s.RepairedTotal,
		"requests_per_second":  s.RequestsPerSecond,
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
	}
}
