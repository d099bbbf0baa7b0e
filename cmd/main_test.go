package main

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testorch/exitcodes"
)

// captureExit replaces the cli exit hook for the duration of the test
func captureExit(t *testing.T) *int {
	t.Helper()
	code := -1
	oldExiter, oldWriter := cli.OsExiter, cli.ErrWriter
	cli.OsExiter = func(c int) { code = c }
	cli.ErrWriter = io.Discard
	t.Cleanup(func() {
		cli.OsExiter, cli.ErrWriter = oldExiter, oldWriter
	})
	return &code
}

func TestNewApp(t *testing.T) {
	app := newApp()
	assert.Equal(t, "op-testorch", app.Name)
	names := make(map[string]bool)
	for _, f := range app.Flags {
		names[f.Names()[0]] = true
	}
	assert.True(t, names["manifest"])
	assert.True(t, names["test-tags-filter"])
	assert.True(t, names["dump-test-logs"])
}

func TestMissingManifestExitsWithRuntimeError(t *testing.T) {
	code := captureExit(t)
	app := newApp()
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	err := app.Run([]string{"op-testorch", "--manifest", missing, "--log.level", "error"})
	require.Error(t, err)
	assert.Equal(t, exitcodes.RuntimeErr, *code)
}

func TestContradictoryFilterExitsWithRuntimeError(t *testing.T) {
	code := captureExit(t)
	app := newApp()

	err := app.Run([]string{"op-testorch", "--manifest", "tests.yaml", "--test-tags-filter", "slow,-slow"})
	require.Error(t, err)
	assert.Equal(t, exitcodes.RuntimeErr, *code)
}
