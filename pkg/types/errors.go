package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies per-request and per-iteration failures.
type ErrorKind string

const (
	// Transport failures, reported by the HTTP client.
	ErrKindTimeout           ErrorKind = "Timeout"
	ErrKindConnectionRefused ErrorKind = "ConnectionRefused"
	ErrKindDNSFailure        ErrorKind = "DNSFailure"
	ErrKindOther             ErrorKind = "Other"

	// Scenario failures.
	ErrKindCheckFailure      ErrorKind = "CheckFailure"
	ErrKindExtractionFailure ErrorKind = "ExtractionFailure"
)

// IsTransport reports whether the kind is a transport failure.
func (k ErrorKind) IsTransport() bool {
	switch k {
	case ErrKindTimeout, ErrKindConnectionRefused, ErrKindDNSFailure, ErrKindOther:
		return true
	}
	return false
}

// ConfigError is fatal at startup: the run never starts.
type ConfigError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return "config error: " + e.Message
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new ConfigError.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
