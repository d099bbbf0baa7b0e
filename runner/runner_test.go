package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testorch/invocation"
	"github.com/ethereum-optimism/infra/op-testorch/logging"
	"github.com/ethereum-optimism/infra/op-testorch/types"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunIteration_Pass(t *testing.T) {
	f := newFixture(t, 0, invocation.Config{})
	spec := f.spec(t, "core/hello_test", "echo hello", 1)

	outcome := f.runner.RunIteration(context.Background(), spec, 1)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.True(t, outcome.Passed())
	assert.Equal(t, f.layout.RunLogPath("core/hello_test", 1), outcome.LogPath)

	content := readLog(t, outcome.LogPath)
	assert.Contains(t, content, "hello\n\n"+logging.RuntimeTrailerPrefix)

	snap := f.store.Snapshot()
	require.Contains(t, snap, "core/hello_test")
	assert.Contains(t, snap["core/hello_test"].Passed, 1)
	assert.Equal(t, 1, f.runner.Progress().Snapshot().Passed)
}

func TestRunIteration_FailureIsRecordedNotReturned(t *testing.T) {
	f := newFixture(t, 0, invocation.Config{})
	spec := f.spec(t, "failing", "echo broken >&2\nexit 3", 1)

	outcome := f.runner.RunIteration(context.Background(), spec, 1)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Contains(t, readLog(t, outcome.LogPath), "broken")

	agg := f.store.Snapshot()["failing"]
	assert.Equal(t, []int{1}, agg.FailedIterations())
	assert.Empty(t, agg.Passed)
}

func TestRunIteration_KilledBySignal(t *testing.T) {
	f := newFixture(t, 0, invocation.Config{})
	spec := f.spec(t, "killed", "echo partial\nkill -9 $$", 1)

	outcome := f.runner.RunIteration(context.Background(), spec, 1)
	assert.Equal(t, 128+9, outcome.ExitCode)
	assert.Contains(t, readLog(t, outcome.LogPath), "partial")
	assert.Equal(t, 0, f.gate.Active())
}

func TestRunIteration_Environment(t *testing.T) {
	f := newFixture(t, 0, invocation.Config{})
	spec := f.spec(t, "env_test", `echo "TZ=$TZ"; echo "RUNDIR=$TEST_RUNDIR"; pwd -P`, 1)

	outcome := f.runner.RunIteration(context.Background(), spec, 1)
	require.Equal(t, 0, outcome.ExitCode)

	content := readLog(t, outcome.LogPath)
	runDir := f.layout.RunDir("env_test", 1)
	assert.Contains(t, content, "TZ="+FixedTimeZone)
	assert.Contains(t, content, "RUNDIR="+runDir)
	resolved, err := filepath.EvalSymlinks(runDir)
	require.NoError(t, err)
	assert.Contains(t, content, resolved+"\n")
}

func TestRunIteration_FlakeyOnSecondIteration(t *testing.T) {
	f := newFixture(t, 0, invocation.Config{})
	spec := f.spec(t, "flakey", `case "$TEST_RUNDIR" in */2) exit 1;; esac`, 3)

	for i := 1; i <= 3; i++ {
		f.runner.RunIteration(context.Background(), spec, i)
	}

	agg := f.store.Snapshot()["flakey"]
	class, ok := agg.Classification()
	require.True(t, ok)
	assert.Equal(t, types.ClassificationFlakey, class)
	assert.Equal(t, []int{1, 3}, agg.PassedIterations())
	assert.Equal(t, []int{2}, agg.FailedIterations())
}

func TestRunIteration_CannotStart(t *testing.T) {
	f := newFixture(t, 1, invocation.Config{})
	binary := filepath.Join(f.dir, "not_executable")
	require.NoError(t, os.WriteFile(binary, []byte("data"), 0644))
	spec := types.NewTestSpec("not_executable", binary, nil, 1)

	outcome := f.runner.RunIteration(context.Background(), spec, 1)
	assert.Equal(t, ExitCodeNotStarted, outcome.ExitCode)
	assert.Contains(t, readLog(t, outcome.LogPath), "failed to start test")
	assert.Contains(t, f.store.Snapshot()["not_executable"].Failed, 1)
	assert.Equal(t, 0, f.gate.Active(), "slot must be released")
}

func TestRunIteration_OutputFilesInRunDir(t *testing.T) {
	f := newFixture(t, 0, invocation.Config{})
	spec := f.spec(t, "writer", `echo data > "$1"`, 1)
	spec.OutputFiles = []string{"out.txt"}

	outcome := f.runner.RunIteration(context.Background(), spec, 1)
	require.Equal(t, 0, outcome.ExitCode)
	data, err := os.ReadFile(filepath.Join(f.layout.RunDir("writer", 1), "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data\n", string(data))
}

func TestRunIteration_GateBoundsProcesses(t *testing.T) {
	const capacity = 2
	f := newFixture(t, capacity, invocation.Config{})
	spec := f.spec(t, "sleepy", "sleep 0.05", 6)

	var wg sync.WaitGroup
	for i := 1; i <= spec.Iterations; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.runner.RunIteration(context.Background(), spec, i)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, f.gate.Peak(), capacity)
	assert.Equal(t, 0, f.gate.Active())
	assert.Equal(t, 6, f.store.Snapshot()["sleepy"].Count())
}

func TestRunIteration_ContextEndsWhileWaitingForGate(t *testing.T) {
	f := newFixture(t, 1, invocation.Config{})
	spec := f.spec(t, "waiting", "echo never", 1)

	release, err := f.gate.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	outcome := f.runner.RunIteration(ctx, spec, 1)
	assert.Equal(t, ExitCodeNotStarted, outcome.ExitCode)
	assert.Contains(t, readLog(t, outcome.LogPath), "test not started")
	assert.Equal(t, 1, f.store.Recorded())
}

func TestRunIteration_RecordsOnce(t *testing.T) {
	f := newFixture(t, 0, invocation.Config{})
	spec := f.spec(t, "twice", "exit 0", 1)

	f.runner.RunIteration(context.Background(), spec, 1)
	f.runner.RunIteration(context.Background(), spec, 1)
	assert.Equal(t, 1, f.store.Recorded())
}

func TestRunIteration_TimeoutWrapper(t *testing.T) {
	timeoutBinary, err := exec.LookPath("timeout")
	if err != nil {
		t.Skip("timeout binary not available")
	}
	f := newFixture(t, 0, invocation.Config{TimeoutBinary: timeoutBinary, KillSignal: 9})
	spec := f.spec(t, "wrapped", "echo wrapped", 1)

	outcome := f.runner.RunIteration(context.Background(), spec, 1)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Contains(t, readLog(t, outcome.LogPath), "wrapped")
}

func TestCheckBinary(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "ok.sh", "exit 0")
	assert.NoError(t, CheckBinary(types.NewTestSpec("ok", exe, nil, 1)))

	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, nil, 0644))
	assert.Error(t, CheckBinary(types.NewTestSpec("plain", plain, nil, 1)))
	assert.Error(t, CheckBinary(types.NewTestSpec("missing", filepath.Join(dir, "missing"), nil, 1)))
	assert.Error(t, CheckBinary(types.NewTestSpec("dir", dir, nil, 1)))
}
