package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "OP_TESTORCH"

// DumpMode selects which iteration logs are echoed in the summary
type DumpMode string

const (
	DumpNone   DumpMode = "none"
	DumpFailed DumpMode = "failed"
	DumpAll    DumpMode = "all"
)

func (m DumpMode) String() string { return string(m) }

// IsValid checks if the dump mode is valid
func (m DumpMode) IsValid() bool {
	switch m {
	case DumpNone, DumpFailed, DumpAll:
		return true
	}
	return false
}

// SummaryStyle selects how per-test results are rendered
type SummaryStyle string

const (
	SummaryLines SummaryStyle = "lines"
	SummaryTable SummaryStyle = "table"
)

func (s SummaryStyle) String() string { return string(s) }

// IsValid checks if the summary style is valid
func (s SummaryStyle) IsValid() bool {
	return s == SummaryLines || s == SummaryTable
}

var (
	Manifest = &cli.StringFlag{
		Name:     "manifest",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:    "Path to the test manifest (eg. 'tests.yaml')",
	}
	BuildDir = &cli.StringFlag{
		Name:    "build-dir",
		Value:   "build",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILD_DIR"),
		Usage:   "Directory under which per-iteration run directories are created",
	}
	Jobs = &cli.IntFlag{
		Name:    "jobs",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JOBS"),
		Usage:   "Maximum number of build graph actions running at once (0 = number of CPUs)",
	}
	MaxTestConcurrency = &cli.IntFlag{
		Name:    "max-test-concurrency",
		Value:   -1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_TEST_CONCURRENCY"),
		Usage:   "Maximum number of test processes running at once (unset = unlimited, 0 = 2 x CPUs)",
	}
	RunsPerTest = &cli.IntFlag{
		Name:    "runs-per-test",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNS_PER_TEST"),
		Usage:   "Number of iterations of each test",
	}
	TestTagsFilter = &cli.StringFlag{
		Name:    "test-tags-filter",
		Value:   "all",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_TAGS_FILTER"),
		Usage:   "Comma-separated tag filter: 'tag' or '+tag' includes, '-tag' excludes",
	}
	RunPerformanceTests = &cli.BoolFlag{
		Name:    "run-performance-tests",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_PERFORMANCE_TESTS"),
		Usage:   "Also run tests tagged 'performance'",
	}
	RunTestsUnder = &cli.StringFlag{
		Name:    "run-tests-under",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_TESTS_UNDER"),
		Usage:   "Instrumentation tool: 'memcheck', 'callgrind' or an absolute tool path",
	}
	RunUnderArgs = &cli.StringSliceFlag{
		Name:    "run-under-args",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_UNDER_ARGS"),
		Usage:   "Extra arguments passed to the instrumentation tool",
	}
	ValgrindBinary = &cli.StringFlag{
		Name:    "valgrind-binary",
		Value:   "valgrind",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VALGRIND_BINARY"),
		Usage:   "Valgrind executable used by the memcheck and callgrind tools",
	}
	TestTimeoutScaleFactor = &cli.IntFlag{
		Name:    "test-timeout-scale-factor",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_TIMEOUT_SCALE_FACTOR"),
		Usage:   "Scale factor for test timeouts (defaults to 20 under instrumentation)",
	}
	TestTimeoutSignal = &cli.IntFlag{
		Name:    "test-timeout-signal",
		Value:   9,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_TIMEOUT_SIGNAL"),
		Usage:   "Signal sent to a test that exceeds its timeout",
	}
	TimeoutBinary = &cli.StringFlag{
		Name:    "timeout-binary",
		Value:   "timeout",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT_BINARY"),
		Usage:   "Timeout wrapper executable; empty disables the wrapper",
	}
	Runner = &cli.StringSliceFlag{
		Name:    "runner",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNNER"),
		Usage:   "Named runner for tests tagged runby.<name>, as <name>=<path>",
	}
	Extend = &cli.StringSliceFlag{
		Name:    "extend",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXTEND"),
		Usage:   "Append to a list setting, as <key>=<value>. Keys: " + strings.Join(ExtensionKeys, ", "),
	}
	DumpTestLogs = &cli.StringFlag{
		Name:    "dump-test-logs",
		Value:   string(DumpFailed),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DUMP_TEST_LOGS"),
		Usage:   "Echo iteration logs in the summary: none, failed or all",
		Action: func(ctx *cli.Context, v string) error {
			if !DumpMode(v).IsValid() {
				return fmt.Errorf("dump-test-logs must be one of none, failed, all; got %q", v)
			}
			return nil
		},
	}
	TestReportColor = &cli.BoolFlag{
		Name:    "test-report-color",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_REPORT_COLOR"),
		Usage:   "Colorize the test summary (default: on when stdout is a terminal)",
	}
	FailedTestsDontFailBuild = &cli.BoolFlag{
		Name:    "failed-tests-dont-fail-build",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAILED_TESTS_DONT_FAIL_BUILD"),
		Usage:   "Report failed tests without failing the build",
	}
	NoDeferTestExecution = &cli.BoolFlag{
		Name:    "no-defer-test-execution",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NO_DEFER_TEST_EXECUTION"),
		Usage:   "Start tests as soon as their own binary is ready instead of after all binaries",
	}
	Opt = &cli.BoolFlag{
		Name:    "opt",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OPT"),
		Usage:   "Tests were built optimized; without it tests tagged 'nodebug' are excluded",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE"),
		Usage:   "Log the full command line of every test iteration",
	}
	SummaryStyleFlag = &cli.StringFlag{
		Name:    "summary-style",
		Value:   string(SummaryLines),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUMMARY_STYLE"),
		Usage:   "Per-test summary rendering: lines or table",
		Action: func(ctx *cli.Context, v string) error {
			if !SummaryStyle(v).IsValid() {
				return fmt.Errorf("summary-style must be one of lines, table; got %q", v)
			}
			return nil
		},
	}
	ReportFile = &cli.StringFlag{
		Name:    "report-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_FILE"),
		Usage:   "Write a JSON test report to this path",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress while tests run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates",
	}
	StatusEnabled = &cli.BoolFlag{
		Name:    "status.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_ENABLED"),
		Usage:   "Serve /healthz, /metrics and /status while the build runs",
	}
	StatusAddr = &cli.StringFlag{
		Name:    "status.addr",
		Value:   "127.0.0.1:8085",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_ADDR"),
		Usage:   "Listen address of the status server",
	}
)

// ExtensionKeys are the list settings that --extend may append to
var ExtensionKeys = []string{
	"run-under-args",
	"test-tags",
	"test-env",
	"lua-path",
	"lua-cpath",
	"rubylib",
	"pythonpath",
}

var requiredFlags = []cli.Flag{
	Manifest,
}

var optionalFlags = []cli.Flag{
	BuildDir,
	Jobs,
	MaxTestConcurrency,
	RunsPerTest,
	TestTagsFilter,
	RunPerformanceTests,
	RunTestsUnder,
	RunUnderArgs,
	ValgrindBinary,
	TestTimeoutScaleFactor,
	TestTimeoutSignal,
	TimeoutBinary,
	Runner,
	Extend,
	DumpTestLogs,
	TestReportColor,
	FailedTestsDontFailBuild,
	NoDeferTestExecution,
	Opt,
	Verbose,
	SummaryStyleFlag,
	ReportFile,
	ShowProgress,
	ProgressInterval,
	StatusEnabled,
	StatusAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
