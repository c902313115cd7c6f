package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{1500 * time.Millisecond, "2s"},
		{2*time.Minute + 3*time.Second, "2m03s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h02m03s"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	line := render(Counts{Done: 50, Total: 200, Passed: 45, Failed: 4, Errored: 1, Sequence: "template 1/2"}, 10*time.Second)

	for _, want := range []string{" 25%", "50/200", "pass 45 fail 4 err 1", "5.0 t/s", "template 1/2"} {
		if !strings.Contains(line, want) {
			t.Errorf("render() = %q, missing %q", line, want)
		}
	}
}

func TestRender_ZeroTotal(t *testing.T) {
	line := render(Counts{}, 0)
	if !strings.Contains(line, "  0%") {
		t.Errorf("render() = %q", line)
	}
}

func TestDisplay_Lifecycle(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf)

	d.Update(Counts{Done: 1, Total: 2})
	if buf.Len() != 0 {
		t.Error("Update() before Start() should not draw")
	}

	d.Start("http://api.test")
	d.Update(Counts{Done: 1, Total: 2})
	d.Update(Counts{Done: 2, Total: 2})
	d.Stop()
	d.Update(Counts{Done: 3, Total: 2})

	out := buf.String()
	if !strings.Contains(out, "2/2") {
		t.Errorf("output = %q, missing final count", out)
	}
	if strings.Contains(out, "3/2") {
		t.Error("Update() after Stop() should not draw")
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Stop() should end the line")
	}
	if d.Last().Done != 3 {
		t.Errorf("Last().Done = %d, want 3", d.Last().Done)
	}
}
