package main

import (
	"errors"
	"fmt"

	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// Process exit codes.
const (
	exitOK     = 0
	exitDrift  = 1
	exitConfig = 2
	exitErrors = 3
)

// exitError carries a process exit code. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withCode(code int, err error) error {
	if code == exitOK && err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// configError marks load-time failures: bad config, state or policy documents.
func configError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: exitConfig, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var coded *exitError
	if errors.As(err, &coded) {
		return coded.code
	}
	var (
		validationErr *reconerrors.ValidationError
		parseErr      *reconerrors.ParseError
		cfgErr        *reconerrors.ConfigurationError
	)
	if errors.As(err, &validationErr) || errors.As(err, &parseErr) || errors.As(err, &cfgErr) {
		return exitConfig
	}
	return exitErrors
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var coded *exitError
	if errors.As(err, &coded) && coded.err == nil {
		return ""
	}
	return err.Error()
}
