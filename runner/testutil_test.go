package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testorch/concurrency"
	"github.com/ethereum-optimism/infra/op-testorch/invocation"
	"github.com/ethereum-optimism/infra/op-testorch/logging"
	"github.com/ethereum-optimism/infra/op-testorch/results"
	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// writeScript creates an executable shell script and returns its path
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

type fixture struct {
	dir    string
	store  *results.Store
	gate   *concurrency.Gate
	runner *Runner
	layout logging.Layout
}

func newFixture(t *testing.T, capacity int, builderCfg invocation.Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	if builderCfg.ScaleFactor == 0 {
		builderCfg.ScaleFactor = 1
	}
	builder, err := invocation.NewBuilder(builderCfg)
	require.NoError(t, err)

	f := &fixture{
		dir:    dir,
		store:  results.NewStore(),
		gate:   concurrency.NewGate(capacity),
		layout: logging.NewLayout(filepath.Join(dir, "build")),
	}
	f.runner, err = NewRunner(Config{
		Log:     log.NewLogger(log.DiscardHandler()),
		Builder: builder,
		Gate:    f.gate,
		Store:   f.store,
		Layout:  f.layout,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) spec(t *testing.T, name, body string, iterations int, tags ...string) types.TestSpec {
	t.Helper()
	binary := writeScript(t, f.dir, filepath.Base(name)+".sh", body)
	return types.NewTestSpec(name, binary, tags, iterations)
}
