package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is matched by a FetchError whose attempts ran out.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed represents an unreadable response body.
	ErrorClassMalformed ErrorClass = "malformed"
)

// FetchError describes a failed logical request.
type FetchError struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Attempts   int

	// Exhausted is true when every allowed attempt failed with a retriable
	// error. Callers decide whether that is fatal for a page or a whole run.
	Exhausted bool

	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	status := ""
	if e.StatusCode > 0 {
		status = fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	msg := fmt.Sprintf("fetch %s: %s error%s after %d attempt(s)", e.URL, e.Class, status, e.Attempts)
	if e.Exhausted {
		msg += ": " + ErrRetryExhausted.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Malformed reports a response body the caller could not interpret. It is
// counted under the malformed class and never retried.
func Malformed(rawURL string, err error) *FetchError {
	pncpErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
	return &FetchError{URL: rawURL, Class: ErrorClassMalformed, Attempts: 1, Err: err}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports ErrRetryExhausted for exhausted errors.
func (e *FetchError) Is(target error) bool {
	return target == ErrRetryExhausted && e.Exhausted
}

// IsExhausted reports whether err is a FetchError that ran out of attempts.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// client errors and malformed bodies will not improve on retry
		return false
	}
}

// classifyStatus maps an HTTP status to an error class. 2xx maps to "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}
