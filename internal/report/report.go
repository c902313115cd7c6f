// Package report records fuzz outcomes as JSON documents and summaries.
package report

import (
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/sequencer"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/transmitter"
)

// Report describes one transmitted test case.
type Report struct {
	RunID            string                       `json:"run_id,omitempty"`
	Status           transmitter.Status           `json:"status"`
	TestNumber       int                          `json:"test_number"`
	Name             string                       `json:"name"`
	State            string                       `json:"state"`
	FuzzPath         string                       `json:"fuzz_path"`
	RequestURL       string                       `json:"request_url"`
	RequestMethod    string                       `json:"request_method"`
	RequestHeaders   map[string]string            `json:"request_headers"`
	RequestBody      string                       `json:"request_body,omitempty"`
	Response         *transmitter.ResponseDetails `json:"response,omitempty"`
	ParsedStatusCode int                          `json:"parsed_status_code"`
	Reason           string                       `json:"reason,omitempty"`
	Attempts         int                          `json:"attempts"`
	DurationMS       int64                        `json:"duration_ms"`
	Repaired         []string                     `json:"repaired,omitempty"`
	Timestamp        time.Time                    `json:"timestamp"`
	SubReports       SubReports                   `json:"sub_reports"`
}

// SubReports holds nested detail reports.
type SubReports struct {
	Payload *Payload `json:"payload,omitempty"`
}

// Payload describes the mutated value that was sent.
type Payload struct {
	Field         string `json:"field"`
	Location      string `json:"location"`
	Raw           string `json:"raw"`
	Hex           string `json:"hex"`
	Length        int    `json:"length"`
	ValidUTF8     bool   `json:"valid_utf8"`
	Mutator       string `json:"mutator"`
	MutationIndex int    `json:"mutation_index"`
}

// Build creates the report for a test case and its outcome.
func Build(tc *sequencer.TestCase, out *transmitter.Outcome) *Report {
	r := &Report{
		Status:           out.Status,
		TestNumber:       tc.Number,
		RequestURL:       out.Request.URL,
		RequestMethod:    out.Request.Method,
		RequestHeaders:   out.Request.Headers,
		RequestBody:      out.Request.Body,
		Response:         out.Response,
		ParsedStatusCode: out.StatusCode(),
		Reason:           out.Reason,
		Attempts:         out.Attempts,
		DurationMS:       out.Duration.Milliseconds(),
		Repaired:         out.Repaired,
		Timestamp:        time.Now(),
	}
	if r.RequestHeaders == nil {
		r.RequestHeaders = map[string]string{}
	}

	if tc.Template != nil {
		r.Name = tc.Template.Name()
		r.FuzzPath = tc.Template.Key.Path
		if r.RequestMethod == "" {
			r.RequestMethod = tc.Template.Key.Method
		}
	}
	r.State = state(tc)

	if tc.Field != nil {
		p := &Payload{
			Field:         tc.Field.Name,
			Location:      string(tc.Field.Location),
			Raw:           string(tc.Mutation),
			Hex:           hex.EncodeToString(tc.Mutation),
			Length:        len(tc.Mutation),
			ValidUTF8:     utf8.Valid(tc.Mutation),
			MutationIndex: tc.Position.Mutation,
		}
		if m := tc.Field.Mutator(); m != nil {
			p.Mutator = m.Kind().String()
		}
		r.SubReports.Payload = p
	}
	return r
}

// Passed reports whether the test case met expectations.
func (r *Report) Passed() bool {
	return r.Status == transmitter.Passed
}

// FailureKey identifies a distinct failure for de-duplication.
func (r *Report) FailureKey() string {
	field := ""
	if r.SubReports.Payload != nil {
		field = r.SubReports.Payload.Location + "|" + r.SubReports.Payload.Field
	}
	status := fmt.Sprint(r.ParsedStatusCode)
	if r.ParsedStatusCode == 0 {
		status = string(r.Status)
	}
	return r.RequestMethod + "|" + r.FuzzPath + "|" + field + "|" + status
}

func state(tc *sequencer.TestCase) string {
	if tc.Field == nil {
		return fmt.Sprintf("test %d", tc.Number)
	}
	return fmt.Sprintf("template %d field %d %s mutation %d/%d",
		tc.Position.Template+1, tc.Position.Field+1, tc.Field.ID(),
		tc.Position.Mutation, tc.Field.Limit())
}
