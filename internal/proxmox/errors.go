package proxmox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ProxmoxError represents an error response from the Proxmox API.
type ProxmoxError struct {
	StatusCode int
	Message    string
	Errors     map[string]string
}

func (e *ProxmoxError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("proxmox API %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("proxmox API %d", e.StatusCode)
}

// ErrorClass buckets an upstream Proxmox failure so callers (the
// Deployment Pipeline, Lifecycle Controller, Status Reconciler) can decide
// whether to retry, surface to the user, or mark the App Error.
type ErrorClass string

const (
	ClassTransient   ErrorClass = "transient"
	ClassNotFound    ErrorClass = "not_found"
	ClassAuthFailed  ErrorClass = "auth_failed"
	ClassResourceBusy ErrorClass = "resource_busy"
	ClassPermanent   ErrorClass = "permanent"
)

// UpstreamError wraps a classified failure from the Proxmox Driver.
type UpstreamError struct {
	Class ErrorClass
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Classify inspects err and tags it with the ErrorClass the retry policy
// and Lifecycle Controller use to decide what to do next.
func Classify(err error) *UpstreamError {
	if err == nil {
		return nil
	}
	if ue, ok := err.(*UpstreamError); ok {
		return ue
	}

	var pErr *ProxmoxError
	if errors.As(err, &pErr) {
		switch {
		case pErr.StatusCode == http.StatusNotFound:
			return &UpstreamError{Class: ClassNotFound, Err: err}
		case pErr.StatusCode == http.StatusUnauthorized || pErr.StatusCode == http.StatusForbidden:
			return &UpstreamError{Class: ClassAuthFailed, Err: err}
		case pErr.StatusCode == http.StatusLocked || pErr.StatusCode == http.StatusConflict:
			return &UpstreamError{Class: ClassResourceBusy, Err: err}
		case pErr.StatusCode >= 500 || pErr.StatusCode == http.StatusTooManyRequests:
			return &UpstreamError{Class: ClassTransient, Err: err}
		default:
			return &UpstreamError{Class: ClassPermanent, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &UpstreamError{Class: ClassTransient, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &UpstreamError{Class: ClassTransient, Err: err}
	}

	return &UpstreamError{Class: ClassPermanent, Err: err}
}

// IsRetryable reports whether err's class should be retried by the backoff
// wrapper in client.go.
func IsRetryable(err error) bool {
	return Classify(err).Class == ClassTransient
}
