package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/auth"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/compiler"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/definition"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/discovery"
	fuzzerrors "github.com/PentesterFlow/OpenAPIFuzzer/internal/errors"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/metrics"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/model"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/mutator"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/progress"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/ratelimit"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/report"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/resolver"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/scope"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/sequencer"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/state"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/transmitter"
)

// Fuzzer is the main fuzz orchestrator.
type Fuzzer struct {
	config       *Config
	log          *logger.Logger
	loader       definition.Loader
	httpClient   *http.Client
	stream       io.Writer
	showProgress bool
	metrics      *metrics.Collector
	progress     *progress.Display

	doc         *definition.Document
	def         map[string]any
	templates   []*model.Template
	session     *sequencer.Session
	baseURL     string
	fingerprint string

	client   *transmitter.Client
	reporter *report.Reporter
	state    *state.Manager
	runID    string
	resumed  bool
	// offset is the number of tests finished by earlier runs of a resumed session.
	offset int

	prepared atomic.Bool
	running  atomic.Bool
	closed   atomic.Bool
}

// Result describes a finished or interrupted run.
type Result struct {
	RunID       string             `json:"run_id"`
	BaseURL     string             `json:"base_url"`
	Templates   int                `json:"templates"`
	Total       int                `json:"total"`
	Summary     report.Summary     `json:"summary"`
	Metrics     *metrics.Snapshot  `json:"metrics"`
	Counters    state.Counters     `json:"counters"`
	Position    sequencer.Position `json:"position"`
	Interrupted bool               `json:"interrupted"`
	Resumed     bool               `json:"resumed"`
}

// New creates a new fuzzer with the given options.
func New(opts ...Option) (*Fuzzer, error) {
	f := &Fuzzer{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := f.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if f.log == nil {
		level := logger.InfoLevel
		if f.config.Debug {
			level = logger.DebugLevel
		} else if !f.config.Verbose {
			level = logger.WarnLevel
		}
		f.log = logger.New(logger.Config{
			Level:     level,
			Pretty:    true,
			Component: "fuzzer",
		})
	}

	if f.metrics == nil {
		f.metrics = metrics.New()
	}

	return f, nil
}

// Config returns a copy of the active configuration.
func (f *Fuzzer) Config() *Config {
	return f.config.Clone()
}

// Metrics returns the metrics collector.
func (f *Fuzzer) Metrics() *metrics.Collector {
	return f.metrics
}

// Templates returns the compiled templates. Empty before Prepare.
func (f *Fuzzer) Templates() []*model.Template {
	return f.templates
}

// BaseURL returns the URL requests are sent to. Empty before Prepare.
func (f *Fuzzer) BaseURL() string {
	return f.baseURL
}

// IsRunning reports whether Run is in progress.
func (f *Fuzzer) IsRunning() bool {
	return f.running.Load()
}

// Prepare loads, resolves and compiles the definition, restores a saved
// session when resuming, and builds the transmitter. Run calls it when it
// has not been called yet.
func (f *Fuzzer) Prepare(ctx context.Context) error {
	if f.prepared.Load() {
		return nil
	}

	if err := f.loadDefinition(ctx); err != nil {
		return err
	}

	kind, err := mutator.ParseKind(f.config.mutatorName())
	if err != nil {
		return err
	}
	cc := compiler.DefaultConfig()
	cc.Mutator.Kind = kind
	for _, m := range f.config.Methods {
		cc.Methods = append(cc.Methods, strings.ToLower(m))
	}
	comp := compiler.New(cc, f.log)
	f.templates, err = comp.Compile(f.def)
	if err != nil {
		return fmt.Errorf("compiling definition: %w", err)
	}
	cs := comp.Stats()
	f.log.Infof("Compiled %d templates with %d fields from %d operations", cs.Templates, cs.Fields, cs.Operations)

	checker, err := scope.NewChecker(scope.Rules{
		IncludePatterns: f.config.Scope.Include,
		ExcludePatterns: f.config.Scope.Exclude,
		SkipDestructive: f.config.Scope.SkipDestructive,
	})
	if err != nil {
		return fmt.Errorf("compiling scope: %w", err)
	}
	var dropped int
	f.templates, dropped = checker.Filter(f.templates)
	if dropped > 0 {
		f.log.Infof("Skipped %d templates out of scope", dropped)
	}
	if len(f.templates) == 0 {
		return fmt.Errorf("definition %s has no fuzzable operations in scope", f.doc.Source)
	}

	f.baseURL, err = compiler.BaseURL(f.def, f.config.TargetURL, f.anchor())
	if err != nil {
		return fmt.Errorf("determining base URL: %w", err)
	}

	f.session = sequencer.New(f.templates, f.config.Ceiling)
	f.metrics.SetTestsTotal(int64(f.session.Total()))

	if err := f.beginState(); err != nil {
		return err
	}

	if err := f.initReporter(); err != nil {
		f.state.Close()
		return err
	}

	if err := f.initClient(ctx); err != nil {
		f.reporter.Close()
		f.state.Close()
		return err
	}

	f.prepared.Store(true)
	return nil
}

// loadDefinition discovers, loads and resolves the definition and computes
// its fingerprint.
func (f *Fuzzer) loadDefinition(ctx context.Context) error {
	if f.def != nil {
		return nil
	}

	if f.loader == nil {
		f.loader = definition.NewLoader(definition.LoaderConfig{
			Timeout:       f.config.Timeout,
			UserAgent:     f.config.UserAgent,
			Headers:       f.config.Auth.Headers,
			SkipTLSVerify: f.config.SkipTLSVerify,
		}, f.log)
	}

	source := f.config.Source
	if source == "" {
		dc := discovery.DefaultConfig()
		dc.Timeout = f.config.Timeout
		dc.UserAgent = f.config.UserAgent
		dc.Headers = f.config.Auth.Headers
		dc.SkipTLSVerify = f.config.SkipTLSVerify

		found, err := discovery.NewProber(dc, f.log).Discover(ctx, f.config.Discover)
		if err != nil {
			return fmt.Errorf("discovering definition: %w", err)
		}
		f.log.Infof("Discovered definition at %s", found)
		source = found
	}

	doc, err := definition.Load(ctx, f.loader, source)
	if err != nil {
		return err
	}
	if f.config.SourceURL != "" {
		doc.SourceURL = f.config.SourceURL
	}

	res := resolver.New(f.loader, f.log, resolver.DefaultConfig())
	def, err := res.Resolve(ctx, doc)
	if err != nil {
		return fmt.Errorf("resolving references: %w", err)
	}
	rs := res.Stats()
	f.log.StatsEvent(map[string]interface{}{
		"resolved_refs": rs.Resolved,
		"passes":        rs.Passes,
	})

	fp, err := state.Fingerprint(def)
	if err != nil {
		return fmt.Errorf("fingerprinting definition: %w", err)
	}

	f.doc, f.def, f.fingerprint = doc, def, fp
	return nil
}

// anchor is the location relative server URLs are resolved against.
func (f *Fuzzer) anchor() string {
	if f.doc.SourceURL != "" {
		return f.doc.SourceURL
	}
	return f.doc.Source
}

func (f *Fuzzer) beginState() error {
	store, err := state.Open(f.config.State.Path)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	f.state = state.NewManager(store, f.config.State.CheckpointEvery)

	st, resumed, err := f.state.Begin(state.Session{
		Fingerprint: f.fingerprint,
		Source:      f.doc.Source,
		BaseURL:     f.baseURL,
		Total:       f.session.Total(),
		Ceiling:     f.session.Ceiling(),
	}, f.config.State.Resume)
	if err != nil {
		store.Close()
		return err
	}

	f.runID, f.resumed = st.RunID, resumed
	if resumed {
		f.offset = st.Position.Number
		if err := f.session.Restore(st.Position); err != nil {
			store.Close()
			return fmt.Errorf("restoring session: %w", err)
		}
		f.log.Infof("Resuming run %s after test %d of %d", st.RunID, st.Position.Number, st.Total)
	} else if f.config.State.Resume {
		f.log.Info("No unfinished session for this definition, starting fresh")
	}
	return nil
}

func (f *Fuzzer) initReporter() error {
	w := f.stream
	if w == nil && f.config.Report.Stream {
		w = os.Stdout
	}
	var sw *report.StreamWriter
	if w != nil {
		sw = report.NewStreamWriter(w, false)
	}

	r, err := report.New(report.Config{
		Dir:              f.config.Report.Dir,
		RunID:            f.runID,
		Stream:           sw,
		ExpectedFailures: uint(f.session.Total()),
	}, f.log)
	if err != nil {
		return fmt.Errorf("creating reporter: %w", err)
	}
	f.reporter = r
	return nil
}

func (f *Fuzzer) initClient(ctx context.Context) error {
	provider, err := auth.NewProvider(f.config.credentials())
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}
	if err := provider.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	rl := f.config.RateLimit
	var pacer transmitter.Pacer
	if rl.Adaptive && rl.RequestsPerSecond > 0 {
		al := ratelimit.NewAdaptiveLimiter(rl.MinRate, rl.RequestsPerSecond, rl.Burst)
		al.SetHostDelay(rl.DelayBetween)
		pacer = al
	} else if rl.RequestsPerSecond > 0 || rl.DelayBetween > 0 {
		l := ratelimit.NewLimiter(rl.RequestsPerSecond, rl.Burst)
		l.SetHostDelay(rl.DelayBetween)
		pacer = l
	}

	breaker := fuzzerrors.NewDefaultCircuitBreaker()
	breaker.OnStateChange(func(from, to fuzzerrors.CircuitState) {
		f.log.Warnf("Target circuit %s -> %s", from, to)
	})

	tc := transmitter.DefaultConfig()
	tc.Timeout = f.config.Timeout
	tc.UserAgent = f.config.UserAgent
	tc.SkipTLSVerify = f.config.SkipTLSVerify
	tc.FollowRedirects = f.config.FollowRedirects
	if f.config.MaxResponseSize > 0 {
		tc.MaxResponseSize = f.config.MaxResponseSize
	}
	if tc.MaxIdleConnsPerHost < f.config.Workers {
		tc.MaxIdleConnsPerHost = f.config.Workers
	}

	opts := []transmitter.Option{
		transmitter.WithAuth(provider),
		transmitter.WithBreaker(breaker),
		transmitter.WithRetrier(fuzzerrors.NewDefaultRetrier()),
	}
	if pacer != nil {
		opts = append(opts, transmitter.WithPacer(pacer))
	}
	if f.httpClient != nil {
		opts = append(opts, transmitter.WithHTTPClient(f.httpClient))
	}
	f.client = transmitter.New(f.baseURL, tc, f.log, opts...)
	return nil
}

// Run sends every test case of the session and returns the run result.
// Cancelling ctx stops the run after in-flight requests finish; the
// position is checkpointed so a later run can resume.
func (f *Fuzzer) Run(ctx context.Context) (*Result, error) {
	if !f.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("fuzzer is already running")
	}
	defer f.running.Store(false)

	if err := f.Prepare(ctx); err != nil {
		return nil, err
	}
	if f.closed.Load() {
		return nil, fmt.Errorf("fuzzer is closed")
	}

	f.log.Infof("Fuzzing %s: %d templates, %d tests, %d workers", f.baseURL, len(f.templates), f.session.Total(), f.config.Workers)

	if f.showProgress {
		f.progress = progress.New()
		f.progress.Start(f.baseURL)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < f.config.Workers; i++ {
		id := i
		g.Go(func() error {
			return f.worker(gctx, id)
		})
	}
	runErr := g.Wait()

	if f.progress != nil {
		f.progress.Stop()
	}

	interrupted := ctx.Err() != nil
	pos := f.session.Position()
	if interrupted || runErr != nil {
		if err := f.state.Checkpoint(pos); err != nil {
			f.log.ErrorEvent(err, f.config.State.Path, "checkpoint")
		}
		if interrupted {
			f.log.Warnf("Interrupted after test %d, progress saved", pos.Number)
		}
	} else if err := f.state.Complete(); err != nil {
		f.log.ErrorEvent(err, f.config.State.Path, "complete session")
	}

	result := f.result(interrupted)

	if err := f.Close(); err != nil && runErr == nil {
		runErr = err
	}

	f.log.StatsEvent(f.metrics.Snapshot().Summary())
	return result, runErr
}

func (f *Fuzzer) worker(ctx context.Context, id int) error {
	log := f.log.WithWorker(id)
	f.metrics.AddActiveWorkers(1)
	defer f.metrics.AddActiveWorkers(-1)

	for {
		if ctx.Err() != nil {
			return nil
		}

		tc, err := f.session.Next()
		if errors.Is(err, sequencer.ErrExhausted) {
			return nil
		}
		if err != nil {
			return err
		}

		// A case that was handed out is always finished and recorded.
		out := f.client.Transmit(context.WithoutCancel(ctx), tc)

		if _, err := f.reporter.Record(tc, out); err != nil {
			log.WithTest(tc.Number).WithError(err).Warn("report not written")
		}
		f.metrics.RecordOutcome(out)
		if err := f.state.Record(tc.Position, out.Status); err != nil {
			log.WithError(err).Warn("state checkpoint failed")
		}
		f.updateProgress()
	}
}

func (f *Fuzzer) updateProgress() {
	if f.progress == nil {
		return
	}
	snap := f.metrics.Snapshot()
	f.progress.Update(progress.Counts{
		Done:     f.offset + int(snap.Done()),
		Total:    f.session.Total(),
		Passed:   int(snap.Passed),
		Failed:   int(snap.Failed),
		Errored:  int(snap.Errored),
		Sequence: f.session.SequenceString(),
	})
}

func (f *Fuzzer) result(interrupted bool) *Result {
	res := &Result{
		RunID:       f.runID,
		BaseURL:     f.baseURL,
		Templates:   len(f.templates),
		Total:       f.session.Total(),
		Summary:     f.reporter.Summary(),
		Metrics:     f.metrics.Snapshot(),
		Interrupted: interrupted,
		Resumed:     f.resumed,
	}
	if st, ok := f.state.State(); ok {
		res.Counters = st.Counters
		res.Position = st.Position
	}
	return res
}

// Close writes the JUnit document and releases the reporter and state store.
// It is safe to call more than once.
func (f *Fuzzer) Close() error {
	if !f.prepared.Load() || !f.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if f.config.Report.JUnit != "" {
		if err := f.reporter.WriteJUnit(f.config.Report.JUnit); err != nil {
			errs = append(errs, fmt.Errorf("writing JUnit report: %w", err))
		}
	}
	if err := f.reporter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing reporter: %w", err))
	}
	if err := f.state.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing state store: %w", err))
	}
	return errors.Join(errs...)
}

// Status loads the saved session for the configured definition without
// sending any request. It returns nil when no session was saved.
func (f *Fuzzer) Status(ctx context.Context) (*state.SessionState, error) {
	if f.config.State.Path == "" {
		return nil, fmt.Errorf("no state file configured")
	}
	if err := f.loadDefinition(ctx); err != nil {
		return nil, err
	}

	store, err := state.Open(f.config.State.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	return store.Load(f.fingerprint)
}
