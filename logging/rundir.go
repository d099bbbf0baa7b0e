// Package logging owns the on-disk layout of per-iteration run directories and their logs.
package logging

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	RunDirSuffix = ".rundirs" // appended to the test name to form the iteration root
	RunLogName   = "runlog"   // captured combined output of one iteration

	// RuntimeTrailerPrefix starts the last line of every runlog
	RuntimeTrailerPrefix = "test runtime: "
)

// Layout maps (test, iteration) pairs to stable paths under a build directory
type Layout struct {
	buildDir string
}

// NewLayout creates a layout rooted at buildDir
func NewLayout(buildDir string) Layout {
	return Layout{buildDir: buildDir}
}

// BuildDir returns the root directory of the layout
func (l Layout) BuildDir() string {
	return l.buildDir
}

// RunDir is <build-dir>/<test name>.rundirs/<iteration>
func (l Layout) RunDir(testName string, iteration int) string {
	return filepath.Join(l.buildDir, filepath.FromSlash(testName)+RunDirSuffix, strconv.Itoa(iteration))
}

// RunLogPath is the runlog inside RunDir
func (l Layout) RunLogPath(testName string, iteration int) string {
	return filepath.Join(l.RunDir(testName, iteration), RunLogName)
}

// PrepareRunDir creates the run directory and removes a runlog left by a previous run
func PrepareRunDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run dir %s: %w", dir, err)
	}
	if err := os.Remove(filepath.Join(dir, RunLogName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale runlog: %w", err)
	}
	return nil
}

// WriteRunLog persists captured output followed by a blank separator and the runtime trailer
func WriteRunLog(path string, output []byte, runtime time.Duration) error {
	var buf bytes.Buffer
	buf.Grow(len(output) + 64)
	buf.Write(output)
	buf.WriteString("\n")
	buf.WriteString(RuntimeTrailerPrefix)
	buf.WriteString(runtime.String())
	buf.WriteString("\n")

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write runlog %s: %w", path, err)
	}
	return nil
}

// ReadRunLogLines returns the lines of a runlog without trailing newlines
func ReadRunLogLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open runlog: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("failed to read runlog: %w", err)
	}
	return lines, nil
}
