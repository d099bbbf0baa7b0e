package testorch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-testorch/exitcodes"
	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// RuntimeError stops a build before its graph could be planned or executed.
// Stage names the phase that broke: config, setup, resolve or execute.
type RuntimeError struct {
	Stage string
	Err   error
}

func (e *RuntimeError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("runtime error: %v", e.Err)
	}
	return fmt.Sprintf("runtime error during %s: %v", e.Stage, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ExitCode implements cli.ExitCoder
func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

func NewRuntimeError(stage string, err error) *RuntimeError {
	return &RuntimeError{Stage: stage, Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return errors.As(err, &runtimeErr)
}

// TestFailureError is returned when the graph ran but some requested target did
// not build. A failing test report counts as a failed target.
type TestFailureError struct {
	Failed   []string // failed actions, in graph order
	NotBuilt int      // actions skipped behind a failure or an interrupt
}

func (e *TestFailureError) Error() string {
	msg := fmt.Sprintf("build failed: %d failed, %d not built", len(e.Failed), e.NotBuilt)
	if len(e.Failed) > 0 {
		msg += " (" + strings.Join(e.Failed, ", ") + ")"
	}
	return msg
}

// ExitCode implements cli.ExitCoder
func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

func NewTestFailureError(failed []string, notBuilt int) *TestFailureError {
	return &TestFailureError{Failed: failed, NotBuilt: notBuilt}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return errors.As(err, &testErr)
}

// ExitCode maps an error returned by the orchestrator or its setup to a process
// exit status. Configuration problems are runtime errors even when unwrapped.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsRuntimeError(err), types.IsConfigError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}
