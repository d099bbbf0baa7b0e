package flags

import (
	"testing"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
			require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
		})
	}
}

func TestDumpMode(t *testing.T) {
	for _, m := range []DumpMode{DumpNone, DumpFailed, DumpAll} {
		assert.True(t, m.IsValid(), m.String())
	}
	assert.False(t, DumpMode("some").IsValid())
	assert.False(t, DumpMode("").IsValid())
}

func TestFlagValidation(t *testing.T) {
	app := &cli.App{
		Flags: []cli.Flag{DumpTestLogs, SummaryStyleFlag},
		Action: func(ctx *cli.Context) error {
			return nil
		},
	}

	testCases := []struct {
		name        string
		args        []string
		shouldError bool
	}{
		{"defaults", []string{"app"}, false},
		{"dump all", []string{"app", "--dump-test-logs", "all"}, false},
		{"dump invalid", []string{"app", "--dump-test-logs", "some"}, true},
		{"table summary", []string{"app", "--summary-style", "table"}, false},
		{"invalid summary", []string{"app", "--summary-style", "html"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := app.Run(tc.args)
			if tc.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, -1, ctx.Int(MaxTestConcurrency.Name))
			assert.Equal(t, 1, ctx.Int(RunsPerTest.Name))
			assert.Equal(t, "all", ctx.String(TestTagsFilter.Name))
			assert.Equal(t, "failed", ctx.String(DumpTestLogs.Name))
			assert.Equal(t, "timeout", ctx.String(TimeoutBinary.Name))
			assert.Equal(t, 9, ctx.Int(TestTimeoutSignal.Name))
			assert.False(t, ctx.IsSet(TestTimeoutScaleFactor.Name))
			return CheckRequired(ctx)
		},
	}
	require.NoError(t, app.Run([]string{"app", "--manifest", "tests.yaml"}))
}
