// Package runner executes test iterations and build steps as child processes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testorch/concurrency"
	"github.com/ethereum-optimism/infra/op-testorch/invocation"
	"github.com/ethereum-optimism/infra/op-testorch/logging"
	"github.com/ethereum-optimism/infra/op-testorch/metrics"
	"github.com/ethereum-optimism/infra/op-testorch/results"
	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// ExitCodeNotStarted is recorded for iterations whose process never ran
const ExitCodeNotStarted = -1

// Config holds the collaborators of a Runner
type Config struct {
	Log       log.Logger
	Builder   *invocation.Builder
	Gate      *concurrency.Gate
	Store     *results.Store
	Layout    logging.Layout
	Env       Environment
	Progress  ProgressIndicator
	Verbose   bool
	TailBytes int
}

// Runner executes single test iterations
type Runner struct {
	log       log.Logger
	builder   *invocation.Builder
	gate      *concurrency.Gate
	store     *results.Store
	layout    logging.Layout
	env       Environment
	progress  ProgressIndicator
	verbose   bool
	tailBytes int
	tracer    trace.Tracer
}

// NewRunner creates a Runner
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Builder == nil {
		return nil, errors.New("invocation builder is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("result store is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Gate == nil {
		cfg.Gate = concurrency.NewGate(0)
	}
	if cfg.Progress == nil {
		cfg.Progress = NewProgressTracker()
	}
	return &Runner{
		log:       cfg.Log,
		builder:   cfg.Builder,
		gate:      cfg.Gate,
		store:     cfg.Store,
		layout:    cfg.Layout,
		env:       cfg.Env,
		progress:  cfg.Progress,
		verbose:   cfg.Verbose,
		tailBytes: cfg.TailBytes,
		tracer:    otel.Tracer("test runner"),
	}, nil
}

// Progress returns the indicator iterations report to
func (r *Runner) Progress() ProgressIndicator {
	return r.progress
}

// Builder returns the invocation builder
func (r *Runner) Builder() *invocation.Builder {
	return r.builder
}

// RunIteration executes one iteration of spec and records its outcome in the
// result store exactly once, whether the test passed, failed, timed out, could
// not be started, or the runner itself panicked.
func (r *Runner) RunIteration(ctx context.Context, spec types.TestSpec, iteration int) (outcome types.IterationOutcome) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s #%d", spec.Name, iteration))
	defer span.End()

	key := spec.IterationKey(iteration)
	runDir := r.layout.RunDir(spec.Name, iteration)
	outcome = types.IterationOutcome{
		Iteration: iteration,
		ExitCode:  ExitCodeNotStarted,
		LogPath:   r.layout.RunLogPath(spec.Name, iteration),
	}

	defer func() {
		if rec := recover(); rec != nil {
			errMsg := fmt.Sprintf("runtime error: %v", rec)
			r.log.Error("Panic in RunIteration", "error", errMsg, "test", spec.Name, "iteration", iteration)
			outcome.ExitCode = ExitCodeNotStarted
			r.writeRunLog(outcome.LogPath, []byte(errMsg+"\n"), outcome.Duration)
		}
		span.SetAttributes(attribute.Int("exit_code", outcome.ExitCode))
		r.record(spec, key, outcome)
	}()

	if err := logging.PrepareRunDir(runDir); err != nil {
		r.log.Error("Failed to prepare run dir", "test", spec.Name, "iteration", iteration, "err", err)
		metrics.RecordErrorDetails("rundir", err)
		return outcome
	}

	inv, err := r.builder.Build(spec, iteration, runDir)
	if err != nil {
		r.log.Error("Failed to build invocation", "test", spec.Name, "iteration", iteration, "err", err)
		r.writeRunLog(outcome.LogPath, []byte(fmt.Sprintf("failed to build command: %v\n", err)), 0)
		return outcome
	}

	if r.verbose {
		r.log.Info(inv.String())
	} else {
		r.log.Info(fmt.Sprintf("Testing [%d of %d]: %s", iteration, spec.Iterations, spec.Name))
	}

	output := logging.NewTailBuffer(r.tailBytes)
	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = telemetry.InstrumentEnvironment(ctx, r.env.Build(os.Environ(), inv.Dir))
	cmd.Stdout = output
	cmd.Stderr = output

	waitStart := time.Now()
	release, err := r.gate.Acquire(ctx)
	if err != nil {
		r.log.Warn("Test not started", "test", spec.Name, "iteration", iteration, "err", err)
		r.writeRunLog(outcome.LogPath, []byte(fmt.Sprintf("test not started: %v\n", err)), 0)
		return outcome
	}
	defer release()
	metrics.RecordGateWait(time.Since(waitStart))

	r.progress.StartIteration(key)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		release()
		outcome.Duration = time.Since(start)
		r.log.Error("Failed to start test", "test", spec.Name, "iteration", iteration, "err", err)
		metrics.RecordErrorDetails("start", err)
		r.writeRunLog(outcome.LogPath, append(output.Output(), []byte(fmt.Sprintf("failed to start test: %v\n", err))...), outcome.Duration)
		return outcome
	}
	metrics.ProcessStarted()
	waitErr := cmd.Wait()
	outcome.Duration = time.Since(start)
	metrics.ProcessExited()
	release()

	outcome.ExitCode = exitCode(waitErr)
	r.writeRunLog(outcome.LogPath, output.Output(), outcome.Duration)

	r.log.Debug("Test iteration finished", "test", spec.Name, "iteration", iteration,
		"exitCode", outcome.ExitCode, "duration", outcome.Duration)
	return outcome
}

func (r *Runner) record(spec types.TestSpec, key string, outcome types.IterationOutcome) {
	passed := outcome.Passed()
	if !r.store.Record(spec.Name, outcome, passed) {
		r.log.Warn("Iteration already recorded", "test", spec.Name, "iteration", outcome.Iteration)
		return
	}
	metrics.RecordIteration(spec.Name, passed, outcome.Duration)
	r.progress.FinishIteration(key, passed)
}

func (r *Runner) writeRunLog(path string, output []byte, runtime time.Duration) {
	if err := logging.WriteRunLog(path, output, runtime); err != nil {
		r.log.Error("Failed to write runlog", "path", path, "err", err)
		metrics.RecordErrorDetails("runlog", err)
	}
}

// exitCode maps a Wait error to a process exit status. A process killed by a
// signal reports 128+signal, matching the shell convention.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitCodeNotStarted
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}
