package invocation

import (
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// Instrumentation aliases recognised by --run-tests-under
const (
	ToolMemcheck  = "memcheck"
	ToolCallgrind = "callgrind"

	// DefaultValgrindBinary backs both aliases unless --valgrind-binary overrides it
	DefaultValgrindBinary = "valgrind"

	// InstrumentedScaleFactor replaces the default timeout scale factor under instrumentation
	InstrumentedScaleFactor = 20
)

var memcheckArgs = []string{
	"--read-var-info=yes",
	"--error-exitcode=1",
	"--leak-check=full",
	"--track-fds=yes",
	"--run-libc-freeres=no",
}

// Instrumentation is a resolved wrapper tool placed between the timeout wrapper and the test
type Instrumentation struct {
	Alias  string // memcheck, callgrind, or empty for a free-form tool path
	Binary string
	Args   []string
}

// Memcheck reports whether the tool is the memory checker, which changes tag filtering
func (i *Instrumentation) Memcheck() bool {
	return i != nil && i.Alias == ToolMemcheck
}

// Argv returns the tool binary followed by its arguments
func (i *Instrumentation) Argv() []string {
	if i == nil {
		return nil
	}
	return append([]string{i.Binary}, i.Args...)
}

// ResolveInstrumentation turns the --run-tests-under value into a tool invocation.
// An empty tool means no instrumentation. extraArgs are appended after the alias defaults.
func ResolveInstrumentation(tool, valgrindBinary string, extraArgs []string) (*Instrumentation, error) {
	if valgrindBinary == "" {
		valgrindBinary = DefaultValgrindBinary
	}

	switch tool {
	case "":
		if len(extraArgs) > 0 {
			return nil, types.NewConfigError("run-under-args", "arguments given without --run-tests-under")
		}
		return nil, nil
	case "valgrind":
		return nil, types.NewConfigError("run-tests-under",
			"to run tests under valgrind use --run-tests-under=%s, or pass an absolute tool path to --run-tests-under together with --run-under-args", ToolMemcheck)
	case ToolMemcheck:
		args := append([]string{"--tool=" + ToolMemcheck}, memcheckArgs...)
		return &Instrumentation{
			Alias:  ToolMemcheck,
			Binary: valgrindBinary,
			Args:   append(args, extraArgs...),
		}, nil
	case ToolCallgrind:
		return &Instrumentation{
			Alias:  ToolCallgrind,
			Binary: valgrindBinary,
			Args:   append([]string{"--tool=" + ToolCallgrind}, extraArgs...),
		}, nil
	}

	if !filepath.IsAbs(tool) {
		return nil, types.NewConfigError("run-tests-under",
			"unknown instrumentation %q: expected %s, %s or an absolute tool path", tool, ToolMemcheck, ToolCallgrind)
	}
	return &Instrumentation{
		Binary: tool,
		Args:   append([]string(nil), extraArgs...),
	}, nil
}

// EffectiveScaleFactor applies the instrumentation override: when a tool is active and the
// user did not set a scale factor explicitly, the default factor becomes InstrumentedScaleFactor.
func EffectiveScaleFactor(scale int, explicitlySet bool, tool *Instrumentation) int {
	if tool != nil && !explicitlySet && scale == 1 {
		return InstrumentedScaleFactor
	}
	return scale
}
