// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure so callers can react without string matching
type ErrorKind int

const (
	// KindTransport means no HTTP response was received (dial, TLS, reset, timeout)
	KindTransport ErrorKind = iota + 1

	// KindStatus means the controller answered with an HTTP error status and no error document
	KindStatus

	// KindDecode means the response body could not be decoded into the expected shape
	KindDecode

	// KindServer means the controller reported an errorCode/message/detail triple
	KindServer

	// KindTaskUnavailable means the status of an asynchronous task could not be retrieved
	KindTaskUnavailable

	// KindTaskTimeout means the task did not report an end time within the polling budget
	KindTaskTimeout

	// KindTaskFailed means the task completed but flagged itself as failed
	KindTaskFailed

	// KindNotFound means the requested project, device or file does not exist
	KindNotFound

	// KindValidation means the request was rejected locally before reaching the controller
	KindValidation
)

// String returns the string representation of an ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	case KindServer:
		return "server"
	case KindTaskUnavailable:
		return "task-unavailable"
	case KindTaskTimeout:
		return "task-timeout"
	case KindTaskFailed:
		return "task-failed"
	case KindNotFound:
		return "not-found"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// PnpError represents a structured APIC-EM PnP error with operation context
type PnpError struct {
	// Operation name that failed
	Operation string

	// Kind classifies the failure
	Kind ErrorKind

	// StatusCode is the HTTP status code, zero when no response was received
	StatusCode int

	// Errors reported by the controller (errorCode, message, detail)
	Errors []ErrorModel

	// Human-readable error message
	Message string

	// InternalMsg contains detailed error information for internal logging
	InternalMsg string

	// Number of retry attempts made
	Retries int

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface
func (e *PnpError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("pnp: %s failed: %s (retries: %d)", e.Operation, e.Message, e.Retries)
	}
	return fmt.Sprintf("pnp: %s failed: %s", e.Operation, e.Message)
}

// DetailedError returns the full error message including internal details
//
// This should only be used in secure logging contexts where sensitive information
// disclosure is acceptable (e.g., server-side logs, debug output).
func (e *PnpError) DetailedError() string {
	if e.InternalMsg == "" {
		return e.Error()
	}
	if e.Retries > 0 {
		return fmt.Sprintf("pnp: %s failed: %s (internal: %s, retries: %d)",
			e.Operation, e.Message, e.InternalMsg, e.Retries)
	}
	return fmt.Sprintf("pnp: %s failed: %s (internal: %s)",
		e.Operation, e.Message, e.InternalMsg)
}

// Unwrap returns the underlying cause
func (e *PnpError) Unwrap() error {
	return e.Err
}

// ErrorModel represents an error document returned by the controller
//
// APIC-EM reports semantic failures inside the response member:
//
//	{"response": {"errorCode": "NCND00002", "message": "...", "detail": "..."}}
type ErrorModel struct {
	// Code is the controller error code (e.g. "NCND00002")
	Code string

	// Message is the error message
	Message string

	// Detail contains additional error information
	Detail string
}

// String formats the error model the way the controller documents it
func (m ErrorModel) String() string {
	if m.Detail == "" {
		return fmt.Sprintf("%s: %s", m.Code, m.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", m.Code, m.Message, m.Detail)
}

// IsKind reports whether any PnpError in err's chain has the given kind
//
// Example:
//
//	_, err := client.GetProjectByName(ctx, "branch-42")
//	if pnp.IsKind(err, pnp.KindNotFound) {
//	    // create it
//	}
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var pe *PnpError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Kind == kind {
			return true
		}
		err = pe.Err
	}
	return false
}

// withOperation attributes a PnpError raised by a lower-level call to op
//
// Kind, status and controller errors are carried over so callers can keep using
// IsKind; the original error stays reachable through Unwrap.
func withOperation(op string, err error) error {
	var pe *PnpError
	if !errors.As(err, &pe) || pe.Operation == op {
		return err
	}
	return &PnpError{
		Operation:   op,
		Kind:        pe.Kind,
		StatusCode:  pe.StatusCode,
		Errors:      pe.Errors,
		Message:     pe.Message,
		InternalMsg: pe.InternalMsg,
		Retries:     pe.Retries,
		Err:         err,
	}
}

// TransientStatusCodes defines the HTTP status codes that trigger automatic retry
//
// These are caused by temporary conditions on the controller or a proxy in front of it:
//   - 429 Too Many Requests (rate limiting)
//   - 502 Bad Gateway
//   - 503 Service Unavailable (controller services restarting)
//   - 504 Gateway Timeout
//
// NOTE: 500 is intentionally excluded. APIC-EM uses it for permanent failures such as
// malformed payloads, and retrying those only delays the error.
var TransientStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// isTransientStatus checks if an HTTP status code is in TransientStatusCodes
func isTransientStatus(code int) bool {
	for _, c := range TransientStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}
