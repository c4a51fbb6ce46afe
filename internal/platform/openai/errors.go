package openai

import (
	"errors"
	"fmt"
)

// ErrorKind is set at the point an error is raised, never inferred later by
// matching message text.
type ErrorKind string

const (
	// KindTransport covers network failures, timeouts and retryable HTTP
	// statuses. Retried here with backoff; propagated when exhausted.
	KindTransport ErrorKind = "transport"
	// KindAuth covers rejected credentials. Never retried.
	KindAuth ErrorKind = "auth"
	// KindStructure covers malformed model output: unparseable JSON, empty
	// output, refusals. The structured-generation layer owns retry policy
	// for these.
	KindStructure ErrorKind = "structure"
)

// APIError is the single error type this client raises.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	// RawText carries the model's emitted text on structure errors so the
	// caller can attempt a local repair parse.
	RawText string
	Err     error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("openai %s error (http %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("openai %s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// StructureRawText extracts the raw emitted text from a structure error, if
// any was captured.
func StructureRawText(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == KindStructure {
		return apiErr.RawText
	}
	return ""
}
