package types

import (
	"errors"
	"fmt"
)

// ConfigError is a fatal configuration problem detected before any test runs,
// such as contradictory tag filters or an unknown instrumentation alias.
type ConfigError struct {
	Setting string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Setting == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error: %s: %v", e.Setting, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError for the named setting
func NewConfigError(setting string, format string, args ...any) *ConfigError {
	return &ConfigError{Setting: setting, Err: fmt.Errorf(format, args...)}
}

// IsConfigError checks if the error is or wraps a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return err != nil && errors.As(err, &cfgErr)
}

// BuildFailureError is returned by the test report action when failed tests
// are configured to fail the build.
type BuildFailureError struct {
	Failed int
	Flakey int
}

func (e *BuildFailureError) Error() string {
	return fmt.Sprintf("tests failed: %d failed, %d flakey", e.Failed, e.Flakey)
}

// IsBuildFailureError checks if the error is or wraps a BuildFailureError
func IsBuildFailureError(err error) bool {
	var bfErr *BuildFailureError
	return err != nil && errors.As(err, &bfErr)
}
