package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/auth"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/progress"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/shutdown"
	"github.com/PentesterFlow/OpenAPIFuzzer/pkg/fuzzer"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	envFile    string
	verbose    bool
	debug      bool

	// Source flags
	srcFile   string
	srcURL    string
	discover  string
	targetURL string

	// Fuzz flags
	workers   int
	ceiling   int
	timeout   int
	rateLimit float64
	adaptive  bool
	methods   []string
	mutator   string
	headers   string

	// Scope flags
	includePatterns  []string
	excludePatterns  []string
	allowDestructive bool

	// Output flags
	reportDir string
	junitFile string
	stream    bool

	// State flags
	stateFile string
	resume    bool

	// Display flags
	showProgress bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "apifuzzer",
		Short: "OpenAPIFuzzer - HTTP API fuzzer",
		Long: `OpenAPIFuzzer - Fuzz HTTP APIs described by Swagger 2.0 or OpenAPI 3.x definitions.

Every parameter of every operation is mutated one at a time while the rest keep
their baseline values. Responses other than 2xx or 4xx are reported as failures.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fuzzCmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Fuzz the API described by a definition",
		Long:  "Load a definition, compile its operations into templates and send every test case.",
		Args:  cobra.NoArgs,
		RunE:  runFuzz,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show saved session status",
		Long:  "Show the progress saved in a state file for a definition.",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("apifuzzer %s\n", version)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Env file providing "+fuzzer.HeadersEnvVar)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")

	// Source flags, shared by fuzz and status
	for _, cmd := range []*cobra.Command{fuzzCmd, statusCmd} {
		cmd.Flags().StringVarP(&srcFile, "src-file", "s", "", "Definition file")
		cmd.Flags().StringVarP(&srcURL, "src-url", "u", "", "Definition URL, or where --src-file was downloaded from")
		cmd.Flags().StringVar(&discover, "discover", "", "Probe this base URL for a definition")
		cmd.Flags().StringVar(&stateFile, "state-file", "", "State file (.db for BoltDB, .gz for compressed JSON)")
	}

	// Fuzz flags
	fuzzCmd.Flags().StringVarP(&targetURL, "target-url", "t", "", "Send requests here instead of the declared host")
	fuzzCmd.Flags().IntVarP(&workers, "workers", "w", 1, "Number of concurrent workers")
	fuzzCmd.Flags().IntVar(&ceiling, "ceiling", 100, "Mutations per field for unbounded mutators")
	fuzzCmd.Flags().IntVar(&timeout, "timeout", 10, "Request timeout in seconds")
	fuzzCmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 0, "Requests per second (0 for unlimited)")
	fuzzCmd.Flags().BoolVar(&adaptive, "adaptive", false, "Slow down while the target fails")
	fuzzCmd.Flags().StringSliceVar(&methods, "methods", nil, "Only fuzz these HTTP methods")
	fuzzCmd.Flags().StringVar(&mutator, "mutator", "auto", "Mutator for non-enum fields (auto, random-bytes, unicode-walk, utf8-chars)")
	fuzzCmd.Flags().StringArrayVar(&includePatterns, "include", nil, "Only fuzz operations matching \"METHOD /path\" (regex)")
	fuzzCmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "Skip operations matching \"METHOD /path\" (regex)")
	fuzzCmd.Flags().BoolVar(&allowDestructive, "allow-destructive", false, "Also fuzz logout and account deletion operations")
	fuzzCmd.Flags().StringVar(&headers, "headers", "", "Auth headers as a JSON object or list of objects")
	fuzzCmd.Flags().StringVarP(&reportDir, "report-dir", "o", "reports", "Directory for failing test reports")
	fuzzCmd.Flags().StringVar(&junitFile, "junit", "", "Write a JUnit XML report")
	fuzzCmd.Flags().BoolVar(&stream, "stream", false, "Stream every report to stdout as JSON lines")
	fuzzCmd.Flags().BoolVar(&resume, "resume", false, "Resume an unfinished session from --state-file")
	fuzzCmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress bar")

	rootCmd.AddCommand(fuzzCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildConfig layers the config file, env file and flags, in that order.
func buildConfig(cmd *cobra.Command) (*fuzzer.Config, error) {
	config := fuzzer.DefaultConfig()
	if configFile != "" {
		fileConfig, err := fuzzer.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	flags := cmd.Flags()
	switch {
	case srcFile != "":
		config.Source = srcFile
		if srcURL != "" {
			config.SourceURL = srcURL
		}
	case srcURL != "":
		config.Source = srcURL
	}
	if discover != "" {
		config.Discover = discover
	}
	if flags.Changed("state-file") {
		config.State.Path = stateFile
	}

	if cmd.Name() == "fuzz" {
		if flags.Changed("target-url") {
			config.TargetURL = targetURL
		}
		if flags.Changed("workers") {
			config.Workers = workers
		}
		if flags.Changed("ceiling") {
			config.Ceiling = ceiling
		}
		if flags.Changed("timeout") {
			config.Timeout = time.Duration(timeout) * time.Second
		}
		if flags.Changed("rate-limit") {
			config.RateLimit.RequestsPerSecond = rateLimit
		}
		if flags.Changed("adaptive") {
			config.RateLimit.Adaptive = adaptive
		}
		if flags.Changed("methods") {
			config.Methods = methods
		}
		if flags.Changed("mutator") {
			config.Mutator = mutator
		}
		if flags.Changed("include") {
			config.Scope.Include = includePatterns
		}
		if flags.Changed("exclude") {
			config.Scope.Exclude = excludePatterns
		}
		if allowDestructive {
			config.Scope.SkipDestructive = false
		}
		if flags.Changed("report-dir") {
			config.Report.Dir = reportDir
		}
		if flags.Changed("junit") {
			config.Report.JUnit = junitFile
		}
		if flags.Changed("stream") {
			config.Report.Stream = stream
		}
		if flags.Changed("resume") {
			config.State.Resume = resume
		}
		if headers != "" {
			parsed, err := auth.ParseHeaders(headers)
			if err != nil {
				return nil, fmt.Errorf("--headers: %w", err)
			}
			if config.Auth.Headers == nil {
				config.Auth.Headers = make(map[string]string, len(parsed))
			}
			for k, v := range parsed {
				config.Auth.Headers[k] = v
			}
		}
	}

	// Explicit headers win over the env file, which wins over the environment.
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}

	config.Verbose = config.Verbose || verbose
	config.Debug = config.Debug || debug
	return config, nil
}

func newLogger(config *fuzzer.Config) *logger.Logger {
	level := logger.WarnLevel
	if config.Debug {
		level = logger.DebugLevel
	} else if config.Verbose {
		level = logger.InfoLevel
	}
	return logger.New(logger.Config{
		Level:     level,
		Pretty:    true,
		Component: "apifuzzer",
	})
}

func runFuzz(cmd *cobra.Command, args []string) error {
	config, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(config)

	// Progress and streamed JSON share the terminal poorly.
	enableProgress := showProgress && !config.Verbose && !config.Debug && !config.Report.Stream

	f, err := fuzzer.New(
		fuzzer.WithConfig(config),
		fuzzer.WithLogger(log),
		fuzzer.WithProgress(enableProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to create fuzzer: %w", err)
	}

	handler := shutdown.New(shutdown.Config{
		Timeout: config.Timeout * 2,
		OnForce: func() {
			fmt.Fprintln(os.Stderr, "\nForced exit, progress since the last checkpoint is lost")
			os.Exit(130)
		},
	}, log)
	handler.Register("close fuzzer", func(context.Context) error {
		return f.Close()
	})
	handler.Listen()
	defer handler.Shutdown()

	if !config.Report.Stream {
		printBanner(config)
	}

	start := time.Now()
	result, err := f.Run(handler.Context())
	if err != nil && result == nil {
		return fmt.Errorf("fuzz failed: %w", err)
	}
	if err != nil {
		log.WithError(err).Warn("run finished with errors")
	}

	if !config.Report.Stream {
		printSummary(result, config, time.Since(start))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	config, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if config.State.Path == "" {
		return fmt.Errorf("--state-file is required")
	}

	f, err := fuzzer.New(fuzzer.WithConfig(config), fuzzer.WithLogger(newLogger(config)))
	if err != nil {
		return err
	}

	st, err := f.Status(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if st == nil {
		fmt.Printf("No session saved in %s for this definition\n", config.State.Path)
		return nil
	}

	done := st.Counters.Passed + st.Counters.Failed + st.Counters.Errored
	state := color.YellowString("unfinished")
	if st.Completed {
		state = color.GreenString("completed")
	}

	fmt.Printf("State file: %s\n", config.State.Path)
	fmt.Printf("Run ID:     %s\n", st.RunID)
	fmt.Printf("Source:     %s\n", st.Source)
	fmt.Printf("Base URL:   %s\n", st.BaseURL)
	fmt.Printf("Status:     %s\n", state)
	fmt.Printf("Progress:   %d/%d tests (next test %d)\n", done, st.Total, st.Position.Number+1)
	fmt.Printf("Results:    %s passed, %s failed, %s errors\n",
		color.GreenString("%d", st.Counters.Passed),
		color.RedString("%d", st.Counters.Failed),
		color.YellowString("%d", st.Counters.Errored))
	fmt.Printf("Updated:    %s\n", st.UpdatedAt.Format(time.RFC3339))
	return nil
}

func printBanner(config *fuzzer.Config) {
	source := config.Source
	if source == "" {
		source = "discover " + config.Discover
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     OpenAPIFuzzer v1.0                       ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Definition: %s\n", source)
	if config.TargetURL != "" {
		fmt.Printf("Target:     %s\n", config.TargetURL)
	}
	fmt.Printf("Workers:    %d\n", config.Workers)
	if config.RateLimit.RequestsPerSecond > 0 {
		fmt.Printf("Rate Limit: %.0f req/s\n", config.RateLimit.RequestsPerSecond)
	}
	fmt.Println()
}

func printSummary(result *fuzzer.Result, config *fuzzer.Config, duration time.Duration) {
	sum := result.Summary
	bold := color.New(color.Bold).SprintFunc()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        Fuzz Summary                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Base URL:        %s\n", result.BaseURL)
	fmt.Printf("Run ID:          %s\n", result.RunID)
	fmt.Printf("Duration:        %s\n", progress.FormatDuration(duration))
	fmt.Printf("Templates:       %d\n", result.Templates)
	fmt.Printf("Tests:           %d/%d\n", result.Position.Number, result.Total)
	fmt.Printf("Passed:          %s\n", color.GreenString("%d", sum.Passed))
	fmt.Printf("Failed:          %s\n", color.RedString("%d", sum.Failed))
	fmt.Printf("Errors:          %s\n", color.YellowString("%d", sum.Errored))
	fmt.Printf("Unique failures: %s\n", bold(sum.UniqueFailures))
	if result.Metrics != nil && result.Metrics.RetriesTotal > 0 {
		fmt.Printf("Retries:         %d\n", result.Metrics.RetriesTotal)
	}
	fmt.Println()

	if len(sum.StatusCodes) > 0 {
		codes := make([]int, 0, len(sum.StatusCodes))
		for code := range sum.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		parts := make([]string, 0, len(codes))
		for _, code := range codes {
			entry := fmt.Sprintf("%d x%d", code, sum.StatusCodes[code])
			if code >= 500 || code < 200 || (code >= 300 && code < 400) {
				entry = color.RedString("%s", entry)
			}
			parts = append(parts, entry)
		}
		fmt.Printf("Status codes:    %s\n\n", strings.Join(parts, ", "))
	}

	if sum.Failed+sum.Errored > 0 && config.Report.Dir != "" {
		fmt.Printf("Reports written to %s\n", config.Report.Dir)
	}
	if config.Report.JUnit != "" {
		fmt.Printf("JUnit report:    %s\n", config.Report.JUnit)
	}

	switch {
	case result.Interrupted && config.State.Path != "":
		fmt.Println(color.YellowString("Interrupted. Continue with --resume --state-file %s", config.State.Path))
	case result.Interrupted:
		fmt.Println(color.YellowString("Interrupted. Set --state-file to make runs resumable."))
	}
	fmt.Println()
}
