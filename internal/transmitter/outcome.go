package transmitter

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/errors"
)

// Status is the verdict for one test case.
type Status string

const (
	Passed  Status = "PASSED"
	Failed  Status = "FAILED"
	Errored Status = "ERROR"
)

// RequestDetails is what was sent.
type RequestDetails struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
}

// ResponseDetails is what came back.
type ResponseDetails struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Title      string            `json:"title,omitempty"`
	Size       int               `json:"size"`
	Truncated  bool              `json:"truncated,omitempty"`
}

// Outcome is the classified result of transmitting a test case.
type Outcome struct {
	Status   Status
	Reason   string
	Request  RequestDetails
	Response *ResponseDetails
	Attempts int
	Duration time.Duration
	Err      error
	// Repaired lists the fields whose values were chopped before sending.
	Repaired []string
}

// StatusCode returns the response status, or 0 when none was received.
func (o *Outcome) StatusCode() int {
	if o.Response == nil {
		return 0
	}
	return o.Response.StatusCode
}

// Classify maps a response status or transport error to a verdict.
// 2xx and 4xx responses are expected; anything else is a failure.
func Classify(statusCode int, err error) (Status, string) {
	if err != nil {
		if errors.GetErrorType(err) == errors.Cancelled {
			return Failed, "transport failure: request cancelled"
		}
		return Failed, fmt.Sprintf("transport failure: %v", rootCause(err))
	}
	switch {
	case statusCode == 0:
		return Failed, "no status code received"
	case statusCode >= 200 && statusCode <= 299, statusCode >= 400 && statusCode <= 499:
		return Passed, ""
	default:
		return Failed, fmt.Sprintf("unexpected status code %d", statusCode)
	}
}

func rootCause(err error) error {
	if fe, ok := err.(*errors.FuzzError); ok && fe.Cause != nil {
		return fe.Cause
	}
	return err
}
