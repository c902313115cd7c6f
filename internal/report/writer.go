package report

import (
	"encoding/json"
	"io"
	"sync"
)

// StreamEvent is one line of the report stream.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StreamWriter writes reports and the final summary as JSON lines.
type StreamWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	closed bool
}

// NewStreamWriter creates a stream writer.
func NewStreamWriter(w io.Writer, pretty bool) *StreamWriter {
	return &StreamWriter{writer: w, pretty: pretty}
}

// WriteReport streams a single report.
func (s *StreamWriter) WriteReport(r *Report) error {
	return s.write(StreamEvent{Type: "report", Data: r})
}

// WriteSummary streams the run summary.
func (s *StreamWriter) WriteSummary(sum Summary) error {
	return s.write(StreamEvent{Type: "summary", Data: sum})
}

func (s *StreamWriter) write(event StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var data []byte
	var err error
	if s.pretty {
		data, err = json.MarshalIndent(event, "", "  ")
	} else {
		data, err = json.Marshal(event)
	}
	if err != nil {
		return err
	}

	if _, err = s.writer.Write(data); err != nil {
		return err
	}
	_, err = s.writer.Write([]byte("\n"))
	return err
}

// Close stops further writes and closes the underlying writer if it can be closed.
func (s *StreamWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if closer, ok := s.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
