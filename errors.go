package bowtie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error types carried in ClientError.Type.
const (
	ErrorTypeConfiguration   = "Configuration"
	ErrorTypeValidation      = "Validation"
	ErrorTypeArguments       = "Arguments"
	ErrorTypeUnknownMethod   = "UnknownMethod"
	ErrorTypeSerialization   = "Serialization"
	ErrorTypeDeserialization = "Deserialization"
	ErrorTypeTransport       = "Transport"
	ErrorTypeHTTPStatus      = "HTTPStatus"
	ErrorTypeCircuitOpen     = "CircuitOpen"
	ErrorTypeBulkheadFull    = "BulkheadFull"
	ErrorTypeTimeout         = "Timeout"
	ErrorTypeIllegalState    = "IllegalState"
)

// Sentinels for errors.Is. Matching is by Type, so any *ClientError of the
// same type satisfies errors.Is(err, ErrX).
var (
	ErrConfiguration   = &ClientError{Type: ErrorTypeConfiguration, Message: "invalid method declaration"}
	ErrValidation      = &ClientError{Type: ErrorTypeValidation, Message: "invalid client configuration"}
	ErrArguments       = &ClientError{Type: ErrorTypeArguments, Message: "invalid call arguments"}
	ErrUnknownMethod   = &ClientError{Type: ErrorTypeUnknownMethod, Message: "method not registered"}
	ErrSerialization   = &ClientError{Type: ErrorTypeSerialization, Message: "request body serialization failed"}
	ErrDeserialization = &ClientError{Type: ErrorTypeDeserialization, Message: "response decoding failed"}
	ErrTransport       = &ClientError{Type: ErrorTypeTransport, Message: "transport failure"}
	ErrHTTPStatus      = &ClientError{Type: ErrorTypeHTTPStatus, Message: "unexpected response status"}
	ErrCircuitOpen     = &ClientError{Type: ErrorTypeCircuitOpen, Message: "circuit breaker is open"}
	ErrBulkheadFull    = &ClientError{Type: ErrorTypeBulkheadFull, Message: "bulkhead is full"}
	ErrTimeout         = &ClientError{Type: ErrorTypeTimeout, Message: "command timed out"}
	ErrIllegalState    = &ClientError{Type: ErrorTypeIllegalState, Message: "illegal state"}
)

// ClientError is the single error type returned by the client. Method, Group
// and Command identify the declared method when known.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	Method     string
	Group      string
	Command    string
	StatusCode int
	RequestID  string
}

func newError(errorType, message string, cause error) *ClientError {
	return &ClientError{Type: errorType, Message: message, Cause: cause}
}

func configError(method, format string, args ...any) *ClientError {
	return &ClientError{
		Type:    ErrorTypeConfiguration,
		Message: fmt.Sprintf(format, args...),
		Method:  method,
	}
}

// Error implements error.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Method != "" {
		msg = fmt.Sprintf("%s: %s", e.Method, msg)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*ClientError); ok {
		return e.Type == t.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.Group != "" || e.Command != "" {
		info += fmt.Sprintf("Command: %s/%s\n", e.Group, e.Command)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// withCall returns a copy of the *ClientError in err with call identity
// filled in where it is missing. The original is never modified, so shared
// values such as the package sentinels stay clean. Other errors are returned
// unchanged.
func withCall(err error, d *Descriptor, requestID string) error {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return err
	}

	cp := *ce
	if cp.Method == "" {
		cp.Method = d.id
	}
	if cp.Group == "" && cp.Command == "" {
		cp.Group, cp.Command = d.key.Group, d.key.Command
	}
	if cp.RequestID == "" {
		cp.RequestID = requestID
	}
	return &cp
}

// IsTransient reports failures that might succeed on a later call: transport
// errors, 429s, timeouts and boundary rejections. A call ended by its own
// context is not transient; only the boundary's timeout is.
func IsTransient(err error) bool {
	if err == nil || isContextError(err) {
		return false
	}

	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Type {
	case ErrorTypeTransport, ErrorTypeTimeout, ErrorTypeCircuitOpen, ErrorTypeBulkheadFull:
		return true
	case ErrorTypeHTTPStatus:
		return ce.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// isCallerFault reports errors caused by the caller rather than the remote
// service. They do not count against the circuit breaker and bypass fallbacks.
func isCallerFault(err error) bool {
	return errors.Is(err, ErrArguments) ||
		errors.Is(err, ErrSerialization) ||
		errors.Is(err, ErrHTTPStatus) ||
		errors.Is(err, ErrIllegalState)
}

// isContextError reports a call ended by its caller's context. Boundary
// timeouts wrap context.DeadlineExceeded too but keep their own type.
func isContextError(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
