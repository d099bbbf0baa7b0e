// Package invocation assembles the command line for a single test iteration.
package invocation

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// DefaultTimeoutBinary is looked up on PATH when no explicit wrapper is configured
const DefaultTimeoutBinary = "timeout"

// DefaultKillSignal is SIGKILL
const DefaultKillSignal = 9

// Config holds everything the builder needs that does not vary per test
type Config struct {
	TimeoutBinary   string            // empty disables the timeout wrapper
	KillSignal      int               // signal sent by the wrapper on expiry
	ScaleFactor     int               // multiplier applied to every base timeout
	Instrumentation *Instrumentation  // optional wrapper tool
	Runners         map[string]string // runby.<name> -> runner executable
}

// Invocation is the concrete argv for one iteration
type Invocation struct {
	Argv    []string
	Dir     string // per-iteration run directory, the child's working directory
	Timeout time.Duration
}

// String renders the argv the way it would be typed into a shell
func (i Invocation) String() string {
	return strings.Join(i.Argv, " ")
}

// Builder constructs invocations. It is safe for concurrent use.
type Builder struct {
	cfg Config
}

// NewBuilder validates cfg and returns a Builder
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.ScaleFactor <= 0 {
		return nil, types.NewConfigError("test-timeout-scale-factor", "must be a positive integer, got %d", cfg.ScaleFactor)
	}
	if cfg.TimeoutBinary != "" && cfg.KillSignal <= 0 {
		return nil, types.NewConfigError("test-timeout-signal", "must be a positive signal number, got %d", cfg.KillSignal)
	}
	return &Builder{cfg: cfg}, nil
}

// Timeout returns the scaled timeout for a test
func (b *Builder) Timeout(spec types.TestSpec) time.Duration {
	return spec.TimeoutClass.BaseTimeout() * time.Duration(b.cfg.ScaleFactor)
}

// RunnerFor resolves the runner selected by the test's runby tag
func (b *Builder) RunnerFor(spec types.TestSpec) (string, error) {
	name := spec.Runner()
	if name == "" {
		return "", nil
	}
	runner, ok := b.cfg.Runners[name]
	if !ok || runner == "" {
		return "", types.NewConfigError("runner", "test %s is tagged %s%s but no such runner is configured", spec.Name, types.RunByTagPrefix, name)
	}
	return runner, nil
}

// Build assembles the argv for one iteration in fixed order:
// timeout wrapper, instrumentation tool and args, runner, binary, args, inputs, outputs.
// Binary and input paths are made absolute; outputs are placed inside runDir.
func (b *Builder) Build(spec types.TestSpec, iteration int, runDir string) (Invocation, error) {
	if iteration < 1 || iteration > spec.Iterations {
		return Invocation{}, fmt.Errorf("iteration %d out of range for %s (1..%d)", iteration, spec.Name, spec.Iterations)
	}
	runner, err := b.RunnerFor(spec)
	if err != nil {
		return Invocation{}, err
	}
	absRunDir, err := filepath.Abs(runDir)
	if err != nil {
		return Invocation{}, fmt.Errorf("failed to resolve run dir: %w", err)
	}
	binary, err := filepath.Abs(spec.Binary)
	if err != nil {
		return Invocation{}, fmt.Errorf("failed to resolve test binary: %w", err)
	}

	timeout := b.Timeout(spec)
	var argv []string
	if b.cfg.TimeoutBinary != "" {
		argv = append(argv,
			b.cfg.TimeoutBinary,
			fmt.Sprintf("--signal=%d", b.cfg.KillSignal),
			fmt.Sprintf("%ds", int64(timeout/time.Second)),
		)
	}
	argv = append(argv, b.cfg.Instrumentation.Argv()...)
	if runner != "" {
		argv = append(argv, runner)
	}
	argv = append(argv, binary)
	argv = append(argv, spec.Args...)
	for _, input := range spec.InputFiles {
		abs, err := filepath.Abs(input)
		if err != nil {
			return Invocation{}, fmt.Errorf("failed to resolve input %s: %w", input, err)
		}
		argv = append(argv, abs)
	}
	for _, output := range spec.OutputFiles {
		argv = append(argv, filepath.Join(absRunDir, output))
	}

	return Invocation{
		Argv:    argv,
		Dir:     absRunDir,
		Timeout: timeout,
	}, nil
}
