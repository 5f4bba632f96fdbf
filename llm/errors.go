package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when a provider answers without any content.
var ErrEmptyResponse = errors.New("empty LLM response")

// ErrorKind tells the retry loop what to do with a failed call.
type ErrorKind int

const (
	// KindTransient failures are retried and then fall back to the next model.
	KindTransient ErrorKind = iota + 1
	// KindFatal failures end the call immediately.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CallError is a classified LLM call failure. Status is the HTTP status
// when the endpoint answered, zero otherwise.
type CallError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *CallError) Error() string {
	return e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as retryable.
func NewTransientError(err error) error {
	return &CallError{Kind: KindTransient, Err: err}
}

// NewFatalError wraps an error as non-retryable.
func NewFatalError(err error) error {
	return &CallError{Kind: KindFatal, Err: err}
}

// IsTransient reports whether err is a retryable call failure.
func IsTransient(err error) bool {
	return kindOf(err) == KindTransient
}

// IsFatal reports whether err is a non-retryable call failure.
func IsFatal(err error) bool {
	return kindOf(err) == KindFatal
}

func kindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// statusError classifies a non-200 answer. Rate limits, timeouts and server
// errors are transient; auth and bad requests are fatal.
func statusError(code int, body []byte) error {
	text := string(body)
	if len(text) > 200 {
		text = text[:200] + "..."
	}

	kind := KindFatal
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		kind = KindTransient
	}
	return &CallError{
		Kind:   kind,
		Status: code,
		Err:    fmt.Errorf("LLM API error (status %d): %s", code, text),
	}
}
