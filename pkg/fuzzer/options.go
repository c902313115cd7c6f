package fuzzer

import (
	"io"
	"net/http"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/definition"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/metrics"
)

// Option is a functional option for configuring the Fuzzer.
type Option func(*Fuzzer) error

// WithConfig replaces the whole configuration.
func WithConfig(config *Config) Option {
	return func(f *Fuzzer) error {
		f.config = config.Clone()
		return nil
	}
}

// WithSource sets the definition file path or URL.
func WithSource(source string) Option {
	return func(f *Fuzzer) error {
		f.config.Source = source
		return nil
	}
}

// WithTargetURL overrides the scheme and host requests are sent to.
func WithTargetURL(target string) Option {
	return func(f *Fuzzer) error {
		f.config.TargetURL = target
		return nil
	}
}

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(f *Fuzzer) error {
		if n < 1 {
			n = 1
		}
		f.config.Workers = n
		return nil
	}
}

// WithCeiling caps unbounded mutators.
func WithCeiling(n int) Option {
	return func(f *Fuzzer) error {
		f.config.Ceiling = n
		return nil
	}
}

// WithScope restricts fuzzing to operations whose "METHOD /path" matches
// include and none of exclude.
func WithScope(include, exclude []string) Option {
	return func(f *Fuzzer) error {
		f.config.Scope.Include = include
		f.config.Scope.Exclude = exclude
		return nil
	}
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fuzzer) error {
		f.config.Timeout = timeout
		return nil
	}
}

// WithRateLimit sets the request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fuzzer) error {
		f.config.RateLimit.RequestsPerSecond = rps
		f.config.RateLimit.Burst = burst
		return nil
	}
}

// WithAuthHeaders adds static auth headers.
func WithAuthHeaders(headers map[string]string) Option {
	return func(f *Fuzzer) error {
		if f.config.Auth.Headers == nil {
			f.config.Auth.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			f.config.Auth.Headers[k] = v
		}
		return nil
	}
}

// WithReportDir sets where failing test reports are written.
func WithReportDir(dir string) Option {
	return func(f *Fuzzer) error {
		f.config.Report.Dir = dir
		return nil
	}
}

// WithJUnit writes a JUnit document to path at the end of the run.
func WithJUnit(path string) Option {
	return func(f *Fuzzer) error {
		f.config.Report.JUnit = path
		return nil
	}
}

// WithState persists progress to path, resuming an unfinished session when resume is set.
func WithState(path string, resume bool) Option {
	return func(f *Fuzzer) error {
		f.config.State.Path = path
		f.config.State.Resume = resume
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(f *Fuzzer) error {
		f.log = log
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(f *Fuzzer) error {
		f.metrics = m
		return nil
	}
}

// WithLoader replaces the definition loader.
func WithLoader(l definition.Loader) Option {
	return func(f *Fuzzer) error {
		f.loader = l
		return nil
	}
}

// WithHTTPClient replaces the client used to send test cases.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fuzzer) error {
		f.httpClient = hc
		return nil
	}
}

// WithStream writes every report to w as JSON lines.
func WithStream(w io.Writer) Option {
	return func(f *Fuzzer) error {
		f.stream = w
		return nil
	}
}

// WithProgress enables the progress bar on stderr.
func WithProgress(enabled bool) Option {
	return func(f *Fuzzer) error {
		f.showProgress = enabled
		return nil
	}
}
