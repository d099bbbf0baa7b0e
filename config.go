// Package testorch runs declared test binaries as actions of a build graph,
// aggregates their iterations and prints the final test report.
package testorch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/ethereum-optimism/infra/op-testorch/concurrency"
	"github.com/ethereum-optimism/infra/op-testorch/flags"
	"github.com/ethereum-optimism/infra/op-testorch/graph"
	"github.com/ethereum-optimism/infra/op-testorch/invocation"
	"github.com/ethereum-optimism/infra/op-testorch/platform"
	"github.com/ethereum-optimism/infra/op-testorch/runner"
	"github.com/ethereum-optimism/infra/op-testorch/tags"
	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// Config holds the application configuration. It is built once by NewConfig
// and handed to the components; nothing reads flags after that.
type Config struct {
	ManifestFile       string
	BuildDir           string   // absolute
	Targets            []string // build graph targets, "." when none are given
	Jobs               int
	GateCapacity       int // 0 = unlimited
	RunsPerTest        int
	Filter             tags.Filter
	RunPerformance     bool
	Instrumentation    *invocation.Instrumentation
	ScaleFactor        int
	KillSignal         int
	TimeoutBinary      string
	Runners            map[string]string
	Env                runner.Environment
	DumpMode           flags.DumpMode
	Color              bool
	FailBuild          bool // failed tests fail the build
	DeferTestExecution bool
	Optimized          bool
	Verbose            bool
	SummaryStyle       flags.SummaryStyle
	ReportFile         string
	ShowProgress       bool
	ProgressInterval   time.Duration
	StatusEnabled      bool
	StatusAddr         string
	Platform           platform.Info
	Output             io.Writer // summary destination
	Log                log.Logger
}

// Extensions are the typed list settings reachable through --extend
type Extensions struct {
	RunUnderArgs []string
	TestTags     []string
	TestEnv      []string
	LuaPath      []string
	LuaCPath     []string
	RubyLib      []string
	PythonPath   []string
}

// ParseExtensions maps key=value entries onto Extensions. Unknown keys are a ConfigError.
func ParseExtensions(entries []string) (Extensions, error) {
	var ext Extensions
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			return ext, types.NewConfigError("extend", "expected <key>=<value>, got %q", entry)
		}
		var list *[]string
		switch key {
		case "run-under-args":
			list = &ext.RunUnderArgs
		case "test-tags":
			list = &ext.TestTags
		case "test-env":
			if !strings.Contains(value, "=") {
				return ext, types.NewConfigError("extend", "test-env entries must be KEY=VALUE, got %q", value)
			}
			list = &ext.TestEnv
		case "lua-path":
			list = &ext.LuaPath
		case "lua-cpath":
			list = &ext.LuaCPath
		case "rubylib":
			list = &ext.RubyLib
		case "pythonpath":
			list = &ext.PythonPath
		default:
			return ext, types.NewConfigError("extend", "unknown key %q, expected one of %s", key, strings.Join(flags.ExtensionKeys, ", "))
		}
		*list = append(*list, value)
	}
	return ext, nil
}

// ParseRunners maps name=path entries of --runner
func ParseRunners(entries []string) (map[string]string, error) {
	runners := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, path, ok := strings.Cut(entry, "=")
		if !ok || name == "" || path == "" {
			return nil, types.NewConfigError("runner", "expected <name>=<path>, got %q", entry)
		}
		runners[name] = path
	}
	return runners, nil
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	manifest, err := filepath.Abs(ctx.String(flags.Manifest.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", ctx.String(flags.Manifest.Name), err)
	}
	buildDir, err := filepath.Abs(ctx.String(flags.BuildDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for build dir '%s': %w", ctx.String(flags.BuildDir.Name), err)
	}

	runs := ctx.Int(flags.RunsPerTest.Name)
	if runs < 0 {
		return nil, types.NewConfigError(flags.RunsPerTest.Name, "must not be negative, got %d", runs)
	}

	ext, err := ParseExtensions(ctx.StringSlice(flags.Extend.Name))
	if err != nil {
		return nil, err
	}
	runners, err := ParseRunners(ctx.StringSlice(flags.Runner.Name))
	if err != nil {
		return nil, err
	}

	underArgs := append(ctx.StringSlice(flags.RunUnderArgs.Name), ext.RunUnderArgs...)
	instr, err := invocation.ResolveInstrumentation(
		ctx.String(flags.RunTestsUnder.Name),
		ctx.String(flags.ValgrindBinary.Name),
		underArgs,
	)
	if err != nil {
		return nil, err
	}
	scale := invocation.EffectiveScaleFactor(
		ctx.Int(flags.TestTimeoutScaleFactor.Name),
		ctx.IsSet(flags.TestTimeoutScaleFactor.Name),
		instr,
	)

	filterSpec := ctx.String(flags.TestTagsFilter.Name)
	if len(ext.TestTags) > 0 {
		filterSpec += "," + strings.Join(ext.TestTags, ",")
	}
	filter := tags.Parse(filterSpec)
	optimized := ctx.Bool(flags.Opt.Name)
	plat := platform.Detect()
	plat.QualifyFilter(filter, instr.Memcheck(), optimized)
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	color := term.IsTerminal(int(os.Stdout.Fd()))
	if ctx.IsSet(flags.TestReportColor.Name) {
		color = ctx.Bool(flags.TestReportColor.Name)
	}

	targets := ctx.Args().Slice()
	if len(targets) == 0 {
		targets = []string{graph.AllTargets}
	}

	return &Config{
		ManifestFile:    manifest,
		BuildDir:        buildDir,
		Targets:         targets,
		Jobs:            ctx.Int(flags.Jobs.Name),
		GateCapacity:    concurrency.ResolveCapacity(ctx.Int(flags.MaxTestConcurrency.Name)),
		RunsPerTest:     runs,
		Filter:          filter,
		RunPerformance:  ctx.Bool(flags.RunPerformanceTests.Name),
		Instrumentation: instr,
		ScaleFactor:     scale,
		KillSignal:      ctx.Int(flags.TestTimeoutSignal.Name),
		TimeoutBinary:   ctx.String(flags.TimeoutBinary.Name),
		Runners:         runners,
		Env: runner.Environment{
			LuaPath:    ext.LuaPath,
			LuaCPath:   ext.LuaCPath,
			RubyLib:    ext.RubyLib,
			PythonPath: ext.PythonPath,
			Extra:      ext.TestEnv,
		},
		DumpMode:           flags.DumpMode(ctx.String(flags.DumpTestLogs.Name)),
		Color:              color,
		FailBuild:          !ctx.Bool(flags.FailedTestsDontFailBuild.Name),
		DeferTestExecution: !ctx.Bool(flags.NoDeferTestExecution.Name),
		Optimized:          optimized,
		Verbose:            ctx.Bool(flags.Verbose.Name),
		SummaryStyle:       flags.SummaryStyle(ctx.String(flags.SummaryStyleFlag.Name)),
		ReportFile:         ctx.String(flags.ReportFile.Name),
		ShowProgress:       ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval:   ctx.Duration(flags.ProgressInterval.Name),
		StatusEnabled:      ctx.Bool(flags.StatusEnabled.Name),
		StatusAddr:         ctx.String(flags.StatusAddr.Name),
		Platform:           plat,
		Output:             os.Stdout,
		Log:                log,
	}, nil
}
