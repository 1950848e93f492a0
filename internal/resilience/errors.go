package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is the retry classification of a failed request.
type Class int

const (
	// ClassPermanent failures are not retried (4xx other than 403/429,
	// undecodable responses).
	ClassPermanent Class = iota
	// ClassRetryable failures are retried with exponential backoff (5xx,
	// transport errors).
	ClassRetryable
	// ClassRateLimited failures are retried after a fixed cooldown (429).
	ClassRateLimited
	// ClassFatal failures abort the caller immediately (403).
	ClassFatal
)

// String returns the human-readable class name.
func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassRetryable:
		return "retryable"
	case ClassRateLimited:
		return "rate_limited"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// TransientError wraps an error that is safe to retry (e.g., network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// ExhaustedError is returned by DoVal when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to a retry class.
func ClassifyStatus(statusCode int) Class {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ClassRateLimited
	case statusCode == http.StatusForbidden:
		return ClassFatal
	case statusCode >= 500:
		return ClassRetryable
	default:
		return ClassPermanent
	}
}

// Classify returns the retry class of err. Errors carrying an HTTP status are
// classified by status; transport-level failures are retryable; anything
// else is permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return ClassifyStatus(sc.HTTPStatus())
	}

	var te *TransientError
	if errors.As(err, &te) {
		if te.StatusCode > 0 {
			return ClassifyStatus(te.StatusCode)
		}
		return ClassRetryable
	}

	if IsTransient(err) {
		return ClassRetryable
	}
	return ClassPermanent
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"client.timeout exceeded",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
