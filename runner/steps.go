package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// RunStep executes a declared build step in its working directory.
// A nonzero exit status is returned as an error carrying the step's output.
func RunStep(ctx context.Context, logger log.Logger, step types.StepSpec) error {
	if len(step.Command) == 0 {
		return fmt.Errorf("step %s has no command", step.Name)
	}
	logger.Info("Running step", "step", step.Name, "command", strings.Join(step.Command, " "))

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
	cmd.Dir = step.Dir
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("step %s failed: %w\n%s", step.Name, err, strings.TrimSpace(output.String()))
	}
	logger.Debug("Step finished", "step", step.Name, "output", strings.TrimSpace(output.String()))
	return nil
}

// CheckBinary verifies that a test binary exists and is executable
func CheckBinary(spec types.TestSpec) error {
	info, err := os.Stat(spec.Binary)
	if err != nil {
		return fmt.Errorf("test %s: binary not built: %w", spec.Name, err)
	}
	if info.IsDir() {
		return fmt.Errorf("test %s: binary %s is a directory", spec.Name, spec.Binary)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("test %s: binary %s is not executable", spec.Name, spec.Binary)
	}
	return nil
}
