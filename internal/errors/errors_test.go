package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

// =============================================================================
// ErrorType Tests
// =============================================================================

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    string
	}{
		{Unknown, "unknown"},
		{DefinitionParse, "definition_parse"},
		{ReferenceResolution, "reference_resolution"},
		{SchemaProcessing, "schema_processing"},
		{Encoding, "encoding"},
		{Transmission, "transmission"},
		{ResponseClassification, "response_classification"},
		{Cancelled, "cancelled"},
		{ErrorType(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.errType.String(); got != tt.want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", tt.errType, got, tt.want)
		}
	}
}

func TestErrorType_Policy(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
		fatal     bool
	}{
		{DefinitionParse, false, true},
		{ReferenceResolution, false, true},
		{SchemaProcessing, false, false},
		{Encoding, false, false},
		{Transmission, true, false},
		{ResponseClassification, false, false},
		{Cancelled, false, false},
	}

	for _, tt := range tests {
		if got := tt.errType.IsRetryable(); got != tt.retryable {
			t.Errorf("%s.IsRetryable() = %v, want %v", tt.errType, got, tt.retryable)
		}
		if got := tt.errType.IsFatal(); got != tt.fatal {
			t.Errorf("%s.IsFatal() = %v, want %v", tt.errType, got, tt.fatal)
		}
	}
}

// =============================================================================
// FuzzError Tests
// =============================================================================

func TestFuzzError_Error(t *testing.T) {
	err := NewReferenceError("other.yaml#/Pet", "file not found", nil)
	want := "reference_resolution error during resolve on other.yaml#/Pet: file not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cause := errors.New("boom")
	withCause := NewDefinitionParseError("api.yaml", cause)
	if !errors.Is(withCause, cause) {
		t.Error("errors.Is should find the cause")
	}
	if withCause.Unwrap() != cause {
		t.Error("Unwrap() should return the cause")
	}
}

func TestFuzzError_Is(t *testing.T) {
	err := NewTransmissionError("http://target", "network failure", nil)
	wrapped := fmt.Errorf("transmit: %w", err)

	if !errors.Is(wrapped, &FuzzError{Type: Transmission}) {
		t.Error("wrapped error should match Transmission type")
	}
	if errors.Is(wrapped, &FuzzError{Type: Encoding}) {
		t.Error("wrapped error should not match Encoding type")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *FuzzError
		want ErrorType
	}{
		{"parse", NewDefinitionParseError("a.json", nil), DefinitionParse},
		{"reference", NewReferenceError("#/x", "missing", nil), ReferenceResolution},
		{"schema", NewSchemaError("body|pet", "bad schema", nil), SchemaProcessing},
		{"encoding", NewEncodingError("header|X", "invalid", nil), Encoding},
		{"transmission", NewTransmissionError("http://t", "reset", nil), Transmission},
		{"classification", NewClassificationError("http://t", "no status"), ResponseClassification},
		{"cancelled", NewCancelledError("http://t", "transmit"), Cancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.want {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.want)
			}
			if tt.err.Retryable != tt.want.IsRetryable() {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable, tt.want.IsRetryable())
			}
		})
	}
}

// =============================================================================
// Categorize Tests
// =============================================================================

func TestCategorize(t *testing.T) {
	if Categorize(nil, "u") != nil {
		t.Error("Categorize(nil) should be nil")
	}

	existing := NewEncodingError("f", "m", nil)
	if Categorize(existing, "u") != existing {
		t.Error("Categorize should return an existing FuzzError as-is")
	}

	tests := []struct {
		name string
		err  error
		want ErrorType
		msg  string
	}{
		{"cancelled", fmt.Errorf("get: %w", context.Canceled), Cancelled, ""},
		{"deadline", context.DeadlineExceeded, Transmission, "request timed out"},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, Transmission, "network failure"},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), Transmission, "network failure"},
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, Transmission, "network failure"},
		{"other", errors.New("malformed HTTP response"), Transmission, "transport failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err, "http://target")
			if got.Type != tt.want {
				t.Errorf("Type = %v, want %v", got.Type, tt.want)
			}
			if tt.msg != "" && got.Message != tt.msg {
				t.Errorf("Message = %q, want %q", got.Message, tt.msg)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	transport := NewTransmissionError("u", "m", nil)
	fatal := fmt.Errorf("load: %w", NewDefinitionParseError("a", nil))

	if !IsRetryable(transport) {
		t.Error("transmission errors are retryable")
	}
	if IsRetryable(NewEncodingError("f", "m", nil)) {
		t.Error("encoding errors are not retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if !IsFatal(fatal) {
		t.Error("wrapped parse errors are fatal")
	}
	if IsFatal(transport) || IsFatal(errors.New("plain")) {
		t.Error("transport and plain errors are not fatal")
	}

	withStatus := NewClassificationError("u", "m")
	withStatus.StatusCode = 502
	if GetStatusCode(withStatus) != 502 {
		t.Errorf("GetStatusCode() = %d, want 502", GetStatusCode(withStatus))
	}
	if GetErrorType(errors.New("plain")) != Unknown {
		t.Error("plain errors have Unknown type")
	}
}

// =============================================================================
// Retry Tests
// =============================================================================

func fastRetrier(attempts int) *Retrier {
	return NewRetrier(RetryConfig{
		MaxAttempts:    attempts,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		RetryableTypes: []ErrorType{Transmission},
	})
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if len(cfg.RetryableTypes) != 1 || cfg.RetryableTypes[0] != Transmission {
		t.Errorf("RetryableTypes = %v, want [transmission]", cfg.RetryableTypes)
	}
	if NewRetrier(RetryConfig{}).MaxAttempts() != 1 {
		t.Error("zero config should still allow one attempt")
	}
}

func TestRetrier_Do_Success(t *testing.T) {
	calls := 0
	result := fastRetrier(3).Do(context.Background(), "transmit", "u", func(ctx context.Context) error {
		calls++
		return nil
	})

	if !result.Success || result.Attempts != 1 || calls != 1 {
		t.Errorf("Success=%v Attempts=%d calls=%d, want true/1/1", result.Success, result.Attempts, calls)
	}
}

func TestRetrier_Do_RetriesTransportFailures(t *testing.T) {
	calls := 0
	result := fastRetrier(3).Do(context.Background(), "transmit", "u", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransmissionError("u", "reset", nil)
		}
		return nil
	})

	if !result.Success {
		t.Error("should succeed on the third attempt")
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetrier_Do_AttemptBudget(t *testing.T) {
	result := fastRetrier(3).Do(context.Background(), "transmit", "u", func(ctx context.Context) error {
		return NewTransmissionError("u", "reset", nil)
	})

	if result.Success {
		t.Error("should fail once the budget is spent")
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if GetErrorType(result.LastError) != Transmission {
		t.Errorf("LastError = %v, want transmission error", result.LastError)
	}
}

func TestRetrier_Do_NoRetryForEncoding(t *testing.T) {
	calls := 0
	result := fastRetrier(3).Do(context.Background(), "transmit", "u", func(ctx context.Context) error {
		calls++
		return NewEncodingError("header|X", "invalid byte", nil)
	})

	if result.Success {
		t.Error("should fail")
	}
	if calls != 1 {
		t.Errorf("function called %d times, want 1 (no retry)", calls)
	}
}

func TestRetrier_Do_ContextCancellation(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxAttempts:    5,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       time.Second,
		Multiplier:     2.0,
		RetryableTypes: []ErrorType{Transmission},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := r.Do(ctx, "transmit", "u", func(ctx context.Context) error {
		return NewTransmissionError("u", "reset", nil)
	})

	if result.Success {
		t.Error("should fail on cancellation")
	}
	if GetErrorType(result.LastError) != Cancelled {
		t.Errorf("LastError = %v, want cancelled", result.LastError)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, result := DoWithResult(context.Background(), fastRetrier(3), "transmit", "u", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransmissionError("u", "reset", nil)
		}
		return 201, nil
	})

	if !result.Success || got != 201 {
		t.Errorf("got %d success=%v, want 201 true", got, result.Success)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}

	for _, tt := range tests {
		got := BackoffDuration(tt.retry, 100*time.Millisecond, time.Second, 2.0)
		if got != tt.want {
			t.Errorf("BackoffDuration(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

// =============================================================================
// Circuit Breaker Tests
// =============================================================================

func TestCircuitState_String(t *testing.T) {
	if Closed.String() != "closed" || Open.String() != "open" || HalfOpen.String() != "half-open" {
		t.Error("unexpected state names")
	}
	if CircuitState(9).String() != "unknown" {
		t.Error("unknown state should stringify as unknown")
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Hour})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess() // resets the streak
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != Closed {
		t.Fatalf("State = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("State = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("Allow() should be false during cooldown")
	}
	if cb.Stats().Trips != 1 {
		t.Errorf("Trips = %d, want 1", cb.Stats().Trips)
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	var transitions []string
	cb.OnStateChange(func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Allow() should let a probe through after cooldown")
	}
	if cb.State() != HalfOpen {
		t.Fatalf("State = %v, want half-open", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("failed probe should reopen, got %v", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != Closed {
		t.Fatalf("successful probe should close, got %v", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestCircuitBreaker_Wait(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 20 * time.Millisecond})
	cb.RecordFailure()

	start := time.Now()
	if err := cb.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Wait() returned after %v, expected to block for the cooldown", elapsed)
	}

	cb.RecordFailure()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := cb.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	cb.RecordFailure()
	cb.Reset()

	if cb.State() != Closed || !cb.Allow() {
		t.Error("Reset() should close the breaker")
	}
}
