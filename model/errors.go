package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrProviderNotConfigured is returned when no Model is registered for a provider.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrEmptyResponse is returned when a vendor answers without any content.
	ErrEmptyResponse = errors.New("empty response")
)

// TransientError is a retryable provider failure: timeouts, rate limits,
// server errors and dropped connections.
type TransientError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s: transient error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a provider failure that retrying cannot fix: authentication,
// invalid requests, unknown models or an exhausted caller deadline.
type FatalError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: fatal error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s: fatal error: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRetryableStatus reports whether an HTTP status code signals a transient
// condition.
func IsRetryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 425 || code == 429 || code >= 500
}

// FromStatus classifies an error that carries an HTTP status code.
func FromStatus(provider string, code int, err error) error {
	if IsRetryableStatus(code) {
		return &TransientError{Provider: provider, StatusCode: code, Err: err}
	}

	return &FatalError{Provider: provider, StatusCode: code, Err: err}
}

// Classify folds an arbitrary error into the taxonomy. Errors that are
// already classified are returned unchanged. A cancelled or expired caller
// context is fatal: the deadline belongs to the session, not the vendor.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}

	var (
		te *TransientError
		fe *FatalError
	)

	if errors.As(err, &te) || errors.As(err, &fe) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &FatalError{Provider: provider, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Provider: provider, Err: err}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return &TransientError{Provider: provider, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"timeout", "rate limit", "overloaded", "connection reset", "temporarily unavailable"} {
		if strings.Contains(msg, hint) {
			return &TransientError{Provider: provider, Err: err}
		}
	}

	return &FatalError{Provider: provider, Err: err}
}
