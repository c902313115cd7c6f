// Package errors provides the error taxonomy of the API fuzzer.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// DefinitionParse means the input could not be read, or is neither valid
	// JSON nor valid YAML. Fatal.
	DefinitionParse
	// ReferenceResolution means a required reference could not be resolved. Fatal.
	ReferenceResolution
	// SchemaProcessing means a parameter schema could not be interpreted.
	// The compiler recovers by using the raw parameter fields.
	SchemaProcessing
	// Encoding means a fuzz value was rejected by the HTTP client.
	// Handled locally by the chop algorithm, never retried.
	Encoding
	// Transmission represents network/transport failures (DNS, connection, timeout).
	Transmission
	// ResponseClassification means the response had no readable status code.
	ResponseClassification
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case DefinitionParse:
		return "definition_parse"
	case ReferenceResolution:
		return "reference_resolution"
	case SchemaProcessing:
		return "schema_processing"
	case Encoding:
		return "encoding"
	case Transmission:
		return "transmission"
	case ResponseClassification:
		return "response_classification"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether errors of this type should be retried against the network.
func (t ErrorType) IsRetryable() bool {
	return t == Transmission
}

// IsFatal returns whether errors of this type abort the run before any request is sent.
func (t ErrorType) IsFatal() bool {
	return t == DefinitionParse || t == ReferenceResolution
}

// FuzzError represents a categorized fuzzer error.
type FuzzError struct {
	Type       ErrorType
	Target     string // URL, file path or reference the error relates to
	Operation  string
	Message    string
	Cause      error
	StatusCode int
	Retryable  bool
}

// Error implements the error interface.
func (e *FuzzError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, e.Target, e.Message)
}

// Unwrap returns the underlying error.
func (e *FuzzError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *FuzzError) Is(target error) bool {
	t, ok := target.(*FuzzError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates a new FuzzError.
func New(errType ErrorType, target, operation, message string, cause error) *FuzzError {
	return &FuzzError{
		Type:      errType,
		Target:    target,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsRetryable(),
	}
}

// NewDefinitionParseError creates a definition parse error.
func NewDefinitionParseError(source string, cause error) *FuzzError {
	return New(DefinitionParse, source, "parse", "document is neither valid JSON nor valid YAML", cause)
}

// NewDefinitionLoadError creates the error for a definition that could not
// be read at all. It is fatal like a parse error.
func NewDefinitionLoadError(source string, cause error) *FuzzError {
	return New(DefinitionParse, source, "load", "definition could not be read", cause)
}

// NewReferenceError creates a reference resolution error.
func NewReferenceError(ref, message string, cause error) *FuzzError {
	return New(ReferenceResolution, ref, "resolve", message, cause)
}

// NewSchemaError creates a schema processing error.
func NewSchemaError(param, message string, cause error) *FuzzError {
	return New(SchemaProcessing, param, "compile", message, cause)
}

// NewEncodingError creates an encoding error.
func NewEncodingError(field, message string, cause error) *FuzzError {
	return New(Encoding, field, "encode", message, cause)
}

// NewTransmissionError creates a transport failure.
func NewTransmissionError(url, message string, cause error) *FuzzError {
	return New(Transmission, url, "transmit", message, cause)
}

// NewClassificationError creates a response classification error.
func NewClassificationError(url, message string) *FuzzError {
	return New(ResponseClassification, url, "classify", message, nil)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(target, operation string) *FuzzError {
	return New(Cancelled, target, operation, "operation cancelled", nil)
}

// Categorize determines the error type from an error returned by the HTTP client.
func Categorize(err error, url string) *FuzzError {
	if err == nil {
		return nil
	}

	var fuzzErr *FuzzError
	if errors.As(err, &fuzzErr) {
		return fuzzErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "transmit")
	}

	if isTimeout(err) {
		return NewTransmissionError(url, "request timed out", err)
	}

	if isNetworkError(err) {
		return NewTransmissionError(url, "network failure", err)
	}

	// Anything else coming back from the client is still a transport problem:
	// no status line was read.
	return NewTransmissionError(url, "transport failure", err)
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "EOF")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var fuzzErr *FuzzError
	if errors.As(err, &fuzzErr) {
		return fuzzErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// IsFatal checks if an error must abort the run.
func IsFatal(err error) bool {
	var fuzzErr *FuzzError
	if errors.As(err, &fuzzErr) {
		return fuzzErr.Type.IsFatal()
	}
	return false
}

// GetStatusCode extracts the status code from an error.
func GetStatusCode(err error) int {
	var fuzzErr *FuzzError
	if errors.As(err, &fuzzErr) {
		return fuzzErr.StatusCode
	}
	return 0
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var fuzzErr *FuzzError
	if errors.As(err, &fuzzErr) {
		return fuzzErr.Type
	}
	return Unknown
}
