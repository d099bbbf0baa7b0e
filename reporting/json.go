package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-testorch/results"
)

// NewRunID returns a fresh identifier for one orchestrator run
func NewRunID() string {
	return uuid.New().String()
}

// JSONReport is the machine-readable form of the final report
type JSONReport struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Passed      int        `json:"passed"`
	Failed      int        `json:"failed"`
	Flakey      int        `json:"flakey"`
	Tests       []JSONTest `json:"tests"`
}

// JSONTest is one test in a JSONReport
type JSONTest struct {
	Name             string          `json:"name"`
	Classification   string          `json:"classification"`
	PassedCount      int             `json:"passed_count"`
	FailedCount      int             `json:"failed_count"`
	FailedIterations []int           `json:"failed_iterations"`
	MeanSeconds      float64         `json:"mean_seconds"`
	StdDevSeconds    *float64        `json:"stddev_seconds,omitempty"`
	Iterations       []JSONIteration `json:"iterations"`
}

// JSONIteration is one executed iteration in a JSONTest
type JSONIteration struct {
	Iteration       int     `json:"iteration"`
	Passed          bool    `json:"passed"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
	LogPath         string  `json:"log_path"`
}

// BuildJSONReport converts a published snapshot; tests are ordered by name
func BuildJSONReport(runID string, report results.Snapshot, now time.Time) JSONReport {
	tally := report.Tally()
	out := JSONReport{
		RunID:       runID,
		GeneratedAt: now.UTC(),
		Passed:      tally.Passed,
		Failed:      tally.Failed,
		Flakey:      tally.Flakey,
		Tests:       make([]JSONTest, 0, len(report)),
	}
	for _, name := range report.Names() {
		agg := report[name]
		class, _ := agg.Classification()
		stats := agg.Stats()
		jt := JSONTest{
			Name:             name,
			Classification:   string(class),
			PassedCount:      len(agg.Passed),
			FailedCount:      len(agg.Failed),
			FailedIterations: agg.FailedIterations(),
			MeanSeconds:      stats.Mean.Seconds(),
		}
		if stats.HasStdDev {
			sd := stats.StdDev.Seconds()
			jt.StdDevSeconds = &sd
		}
		for _, o := range agg.Iterations() {
			jt.Iterations = append(jt.Iterations, JSONIteration{
				Iteration:       o.Iteration,
				Passed:          o.Passed(),
				ExitCode:        o.ExitCode,
				DurationSeconds: o.Duration.Seconds(),
				LogPath:         o.LogPath,
			})
		}
		out.Tests = append(out.Tests, jt)
	}
	return out
}

// WriteJSONReport writes the report as indented JSON, creating parent directories
func WriteJSONReport(path string, report JSONReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
