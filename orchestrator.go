package testorch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testorch/concurrency"
	"github.com/ethereum-optimism/infra/op-testorch/exitcodes"
	"github.com/ethereum-optimism/infra/op-testorch/flags"
	"github.com/ethereum-optimism/infra/op-testorch/graph"
	"github.com/ethereum-optimism/infra/op-testorch/invocation"
	"github.com/ethereum-optimism/infra/op-testorch/logging"
	"github.com/ethereum-optimism/infra/op-testorch/registry"
	"github.com/ethereum-optimism/infra/op-testorch/reporting"
	"github.com/ethereum-optimism/infra/op-testorch/results"
	"github.com/ethereum-optimism/infra/op-testorch/runner"
	"github.com/ethereum-optimism/infra/op-testorch/service"
	"github.com/ethereum-optimism/infra/op-testorch/tags"
	"github.com/ethereum-optimism/infra/op-testorch/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// Aliases declared for every manifest
const (
	AliasBuildTests  = "build-tests"
	AliasRunTests    = "run-tests"
	AliasAllBinaries = "all-binaries"
)

// Orchestrator implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Orchestrator{}

// Orchestrator declares steps and tests into a build graph, executes the
// requested targets once and prints the test summary.
type Orchestrator struct {
	config    *Config
	version   string
	runID     string
	registry  *registry.Registry
	store     *results.Store
	runner    *runner.Runner
	graph     *graph.Graph
	scheduler *reporting.Scheduler
	summary   *reporting.SummaryPrinter
	service   *service.Service

	included []types.TestSpec // tests that passed the tag filter, in manifest order
	skipped  map[string]string

	running atomic.Bool
	outcome *Outcome

	shutdownCallback func(error)
}

// Outcome is what a finished run produced
type Outcome struct {
	RunID     string
	Graph     *graph.Result
	Report    results.Snapshot
	Published bool
}

// New loads the manifest and declares the build graph. Every configuration
// problem surfaces here, before any action runs.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Orchestrator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = log.New()
		config.Log.Error("No logger provided, using default")
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating orchestrator with config",
		"manifest", config.ManifestFile,
		"buildDir", config.BuildDir,
		"targets", config.Targets,
		"filter", config.Filter.String(),
		"gateCapacity", config.GateCapacity,
		"runsPerTest", config.RunsPerTest)

	reg, err := registry.NewRegistry(registry.Config{
		Log:               config.Log,
		ManifestFile:      config.ManifestFile,
		DefaultIterations: config.RunsPerTest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	builder, err := invocation.NewBuilder(invocation.Config{
		TimeoutBinary:   config.TimeoutBinary,
		KillSignal:      config.KillSignal,
		ScaleFactor:     config.ScaleFactor,
		Instrumentation: config.Instrumentation,
		Runners:         config.Runners,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invocation builder: %w", err)
	}

	var progress runner.ProgressIndicator
	if config.ShowProgress {
		progress = runner.NewConsoleProgressIndicator(config.Log, config.ProgressInterval)
	} else {
		progress = runner.NewProgressTracker()
	}

	store := results.NewStore()
	testRunner, err := runner.NewRunner(runner.Config{
		Log:      config.Log,
		Builder:  builder,
		Gate:     concurrency.NewGate(config.GateCapacity),
		Store:    store,
		Layout:   logging.NewLayout(config.BuildDir),
		Env:      config.Env,
		Progress: progress,
		Verbose:  config.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}

	runID := reporting.NewRunID()
	scheduler := reporting.NewScheduler(config.Log, store, runID, config.FailBuild)
	o := &Orchestrator{
		config:    config,
		version:   version,
		runID:     runID,
		registry:  reg,
		store:     store,
		runner:    testRunner,
		graph:     graph.New(config.Log),
		scheduler: scheduler,
		summary: reporting.NewSummaryPrinter(reporting.SummaryConfig{
			Writer:         config.Output,
			Color:          config.Color,
			DumpFailed:     config.DumpMode != flags.DumpNone,
			DumpPassed:     config.DumpMode == flags.DumpAll,
			Table:          config.SummaryStyle == flags.SummaryTable,
			IgnoreFailures: !config.FailBuild,
		}),
		service: service.New(service.Config{
			Log:      config.Log,
			Enabled:  config.StatusEnabled,
			Addr:     config.StatusAddr,
			Progress: progress,
			Report: func() (reporting.JSONReport, bool) {
				report, ok := scheduler.Published()
				if !ok {
					return reporting.JSONReport{}, false
				}
				return reporting.BuildJSONReport(runID, report, time.Now()), true
			},
		}),
		skipped:          make(map[string]string),
		shutdownCallback: shutdownCallback,
	}

	if err := o.declare(); err != nil {
		return nil, err
	}
	config.Log.Info("Build graph declared", "run_id", runID,
		"tests", len(reg.GetTests()), "included", len(o.included), "skipped", len(o.skipped))
	return o, nil
}

// declare adds every step, build check, test iteration and alias to the graph
func (o *Orchestrator) declare() error {
	g := o.graph
	filter := o.config.Filter

	for _, step := range o.registry.GetSteps() {
		if err := g.AddAction(step.Name, func(ctx context.Context) error {
			return runner.RunStep(ctx, o.config.Log, step)
		}, step.Deps...); err != nil {
			return types.NewConfigError("manifest", "step %s: %v", step.Name, err)
		}
	}
	if err := g.AddAction(reporting.ReportNodeName, o.scheduler.Action); err != nil {
		return err
	}

	for _, spec := range o.registry.GetTests() {
		buildAlias := buildAliasName(spec)
		check := "check:" + spec.Name
		if err := g.AddAction(check, func(context.Context) error {
			return runner.CheckBinary(spec)
		}, spec.BuildDeps...); err != nil {
			return types.NewConfigError("manifest", "test %s: %v", spec.Name, err)
		}
		if err := g.Alias(buildAlias, check); err != nil {
			return types.NewConfigError("manifest", "test %s: %v", spec.Name, err)
		}
		if err := g.Alias(AliasBuildTests, buildAlias); err != nil {
			return err
		}

		decision := filter.Decide(spec, o.config.RunPerformance)
		if !decision.Run {
			o.config.Log.Debug("Skipping test", "test", spec.Name, "reason", decision.Reason)
			o.skipped[spec.Name] = decision.Reason
			// an excluded test still answers to its run alias, with nothing to run
			if err := g.Alias(runAliasName(spec)); err != nil {
				return types.NewConfigError("manifest", "test %s: %v", spec.Name, err)
			}
			continue
		}
		if _, err := o.runner.Builder().RunnerFor(spec); err != nil {
			return err
		}

		runAlias := runAliasName(spec)
		keys := make([]string, 0, spec.Iterations)
		for i := 1; i <= spec.Iterations; i++ {
			iteration := i
			key := spec.IterationKey(iteration)
			deps := append([]string{buildAlias}, spec.InstallDeps...)
			if err := g.AddAction(key, func(ctx context.Context) error {
				o.runner.RunIteration(ctx, spec, iteration)
				return nil
			}, deps...); err != nil {
				return types.NewConfigError("manifest", "test %s: %v", spec.Name, err)
			}
			keys = append(keys, key)
		}
		if err := g.Alias(runAlias, keys...); err != nil {
			return types.NewConfigError("manifest", "test %s: %v", spec.Name, err)
		}
		if err := g.Alias(AliasRunTests, runAlias); err != nil {
			return err
		}
		o.included = append(o.included, spec)
	}

	// declared even when empty so the names are always valid targets
	for _, alias := range []string{AliasBuildTests, AliasRunTests} {
		if err := g.Alias(alias); err != nil {
			return err
		}
	}
	if err := g.Alias(AliasAllBinaries, AliasBuildTests); err != nil {
		return err
	}
	return o.attachReport()
}

// attachReport wires the report to the iterations of the tests the targets ask to run,
// so tests only run when requested and the report always runs after them
func (o *Orchestrator) attachReport() error {
	all := false
	requested := make(map[string]bool)
	for _, target := range o.config.Targets {
		switch target {
		case graph.AllTargets, AliasRunTests:
			all = true
		default:
			requested[target] = true
		}
	}

	g := o.graph
	for _, spec := range o.included {
		runAlias := runAliasName(spec)
		if !all && !requested[runAlias] {
			continue
		}
		for i := 1; i <= spec.Iterations; i++ {
			key := spec.IterationKey(i)
			if err := g.Depends(reporting.ReportNodeName, key); err != nil {
				return err
			}
			if all && o.config.DeferTestExecution {
				if err := g.Depends(key, AliasBuildTests); err != nil {
					return err
				}
			}
		}
		if requested[runAlias] {
			if err := g.Alias(runAlias, reporting.ReportNodeName); err != nil {
				return err
			}
		}
	}
	if all {
		return g.Alias(AliasRunTests, reporting.ReportNodeName)
	}
	return nil
}

func buildAliasName(spec types.TestSpec) string {
	return "build-" + spec.BaseName()
}

func runAliasName(spec types.TestSpec) string {
	return "run-" + spec.BaseName()
}

// scheduledIterations counts the test iterations in the closure of the targets
// and reports whether the report action is part of it
func (o *Orchestrator) scheduledIterations() (int, bool, error) {
	order, err := o.graph.Resolve(o.config.Targets)
	if err != nil {
		return 0, false, err
	}
	n := 0
	report := false
	for _, name := range order {
		switch {
		case name == reporting.ReportNodeName:
			report = true
		case strings.HasPrefix(name, "run:"):
			n++
		}
	}
	return n, report, nil
}

// Run executes the targets and prints the summary. The returned error is a
// RuntimeError when the targets cannot be resolved and a TestFailureError when
// any requested action failed.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	scheduled, reportPlanned, err := o.scheduledIterations()
	if err != nil {
		return nil, NewRuntimeError("resolve", err)
	}

	o.service.Start()
	defer o.service.Shutdown()

	progress := o.runner.Progress()
	progress.StartRun(scheduled)
	start := time.Now()
	res, err := o.graph.Execute(ctx, o.config.Targets, o.config.Jobs)
	progress.CompleteRun()
	progress.Stop()
	if err != nil {
		return nil, NewRuntimeError("execute", err)
	}
	o.config.Log.Info("Build graph finished", "run_id", o.runID, "duration", time.Since(start).Truncate(time.Millisecond),
		"succeeded", len(res.Succeeded), "failed", len(res.Failures), "skipped", len(res.Skipped))

	report, published := o.scheduler.Published()
	outcome := &Outcome{RunID: o.runID, Graph: res, Report: report, Published: published}
	o.outcome = outcome

	failures := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		failures = append(failures, f.Node)
	}
	if _, err := o.summary.Print(reporting.Finalization{
		TestsScheduled: reportPlanned && scheduled > 0,
		Report:         report,
		Published:      published,
		Failures:       failures,
		Skipped:        len(res.Skipped),
	}); err != nil {
		o.config.Log.Error("Failed to print summary", "err", err)
	}

	if published && o.config.ReportFile != "" {
		jsonReport := reporting.BuildJSONReport(o.runID, report, time.Now())
		if err := reporting.WriteJSONReport(o.config.ReportFile, jsonReport); err != nil {
			o.config.Log.Error("Failed to write JSON report", "path", o.config.ReportFile, "err", err)
		} else {
			o.config.Log.Info("Wrote JSON report", "path", o.config.ReportFile)
		}
	}

	if !res.OK() {
		return outcome, NewTestFailureError(failures, len(res.Skipped))
	}
	return outcome, nil
}

// Start runs the build once.
// Start implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			o.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	o.running.Store(true)
	o.config.Log.Info("Starting op-testorch", "version", o.version, "targets", o.config.Targets)

	_, err := o.Run(ctx)
	o.running.Store(false)
	if err != nil {
		return err
	}

	go func() {
		o.shutdownCallback(nil)
	}()
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.config.Log.Info("Stopping op-testorch")
	o.running.Store(false)
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Stopped() bool {
	return !o.running.Load()
}

// Included returns the tests selected by the tag filter
func (o *Orchestrator) Included() []types.TestSpec {
	return append([]types.TestSpec(nil), o.included...)
}

// SkippedReason returns why a test was not selected
func (o *Orchestrator) SkippedReason(name string) (string, bool) {
	reason, ok := o.skipped[name]
	return reason, ok
}

// Outcome returns the result of the last Run
func (o *Orchestrator) Outcome() *Outcome {
	return o.outcome
}

// Filter returns the effective tag filter
func (o *Orchestrator) Filter() tags.Filter {
	return o.config.Filter
}
