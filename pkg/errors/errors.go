package errors

import (
	"errors"
	"fmt"
)

// ErrNotFound is the authoritative "absent" answer to an existence check.
var ErrNotFound = errors.New("resource not found")

// ParseError represents a document decoding failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures malformed input that is rejected before any external call.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConfigurationError reports a connector without a usable credential bundle.
type ConfigurationError struct {
	System  string
	Message string
}

// NewConfigurationError constructs a ConfigurationError.
func NewConfigurationError(system, message string) error {
	return &ConfigurationError{System: system, Message: message}
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("configuration error [%s]: %s", e.System, e.Message)
}

// TransportKind narrows a TransportError to its cause.
type TransportKind string

const (
	TransportNetwork   TransportKind = "network"
	TransportTimeout   TransportKind = "timeout"
	TransportAuth      TransportKind = "auth"
	TransportRateLimit TransportKind = "rate_limit"
	TransportStatus    TransportKind = "status"
	TransportDecode    TransportKind = "decode"
)

// TransportError means the external system could not be reached or answered
// unusably. It never implies the resource is absent.
type TransportError struct {
	System     string
	Kind       TransportKind
	StatusCode int
	Err        error
}

// NewTransportError constructs a TransportError.
func NewTransportError(system string, kind TransportKind, status int, err error) error {
	return &TransportError{System: system, Kind: kind, StatusCode: status, Err: err}
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.StatusCode > 0 && e.Err != nil:
		return fmt.Sprintf("transport error [%s/%s]: HTTP %d: %v", e.System, e.Kind, e.StatusCode, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("transport error [%s/%s]: HTTP %d", e.System, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("transport error [%s/%s]: %v", e.System, e.Kind, e.Err)
	}
	return fmt.Sprintf("transport error [%s/%s]", e.System, e.Kind)
}

// Unwrap exposes the underlying error.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AuthorizationError is returned when the caller lacks an elevated role.
type AuthorizationError struct {
	Reason string
}

// NewAuthorizationError constructs an AuthorizationError.
func NewAuthorizationError(reason string) error {
	return &AuthorizationError{Reason: reason}
}

func (e *AuthorizationError) Error() string {
	if e == nil {
		return ""
	}
	return "authorization error: " + e.Reason
}

// StepError identifies the sub-step of a multi-step apply that failed.
type StepError struct {
	Step string
	Err  error
}

// NewStepError constructs a StepError.
func NewStepError(step string, err error) error {
	return &StepError{Step: step, Err: err}
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

// Unwrap exposes the root error.
func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
