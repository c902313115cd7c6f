package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Error     *junitMessage `xml:"error,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

// caseEntry is the compact per-test record kept for the JUnit document.
type caseEntry struct {
	number   int
	suite    string
	name     string
	status   string
	reason   string
	url      string
	seconds  float64
	filename string
}

func caseFromReport(r *Report, filename string) caseEntry {
	name := fmt.Sprintf("test %d", r.TestNumber)
	if p := r.SubReports.Payload; p != nil {
		name = fmt.Sprintf("test %d %s|%s mutation %d", r.TestNumber, p.Location, p.Field, p.MutationIndex)
	}
	return caseEntry{
		number:   r.TestNumber,
		suite:    r.Name,
		name:     name,
		status:   string(r.Status),
		reason:   r.Reason,
		url:      r.RequestURL,
		seconds:  float64(r.DurationMS) / 1000,
		filename: filename,
	}
}

func buildJUnit(name string, cases []caseEntry, sum Summary) junitSuites {
	doc := junitSuites{
		Name:     name,
		Tests:    sum.Total,
		Failures: sum.Failed,
		Errors:   sum.Errored,
		Time:     sum.Duration,
	}

	bySuite := make(map[string]int)
	for _, c := range cases {
		i, ok := bySuite[c.suite]
		if !ok {
			i = len(doc.Suites)
			bySuite[c.suite] = i
			doc.Suites = append(doc.Suites, junitSuite{Name: c.suite})
		}
		s := &doc.Suites[i]
		s.Tests++

		jc := junitCase{
			Name:      c.name,
			Classname: c.suite,
			Time:      fmt.Sprintf("%.3f", c.seconds),
		}
		body := c.url
		if c.filename != "" {
			body += "\nreport: " + c.filename
		}
		switch c.status {
		case "FAILED":
			s.Failures++
			jc.Failure = &junitMessage{Message: c.reason, Type: c.status, Body: body}
		case "ERROR":
			s.Errors++
			jc.Error = &junitMessage{Message: c.reason, Type: c.status, Body: body}
		}
		s.Cases = append(s.Cases, jc)
	}
	return doc
}

func encodeJUnit(w io.Writer, doc junitSuites) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding junit report: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func writeJUnitFile(path string, doc junitSuites) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encodeJUnit(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
