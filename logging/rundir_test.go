package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	l := NewLayout("/build")
	assert.Equal(t, "/build/core/time_test.rundirs/2", l.RunDir("core/time_test", 2))
	assert.Equal(t, "/build/core/time_test.rundirs/2/runlog", l.RunLogPath("core/time_test", 2))
	assert.NotEqual(t, l.RunDir("t", 1), l.RunDir("t", 2))
}

func TestWriteAndReadRunLog(t *testing.T) {
	l := NewLayout(t.TempDir())
	dir := l.RunDir("suite/test", 1)
	require.NoError(t, PrepareRunDir(dir))

	path := l.RunLogPath("suite/test", 1)
	require.NoError(t, WriteRunLog(path, []byte("line one\nline two\n"), 1500*time.Millisecond))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n\ntest runtime: 1.5s\n", string(data))

	lines, err := ReadRunLogLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two", "", "test runtime: 1.5s"}, lines)
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], RuntimeTrailerPrefix))
}

func TestPrepareRunDir_RemovesStaleLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "t.rundirs", "1")
	require.NoError(t, PrepareRunDir(dir))
	stale := filepath.Join(dir, RunLogName)
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	require.NoError(t, PrepareRunDir(dir))
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestReadRunLogLines_Missing(t *testing.T) {
	_, err := ReadRunLogLines(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	b := NewTailBuffer(8)
	_, _ = b.Write([]byte("abcd"))
	assert.False(t, b.Truncated())
	assert.Equal(t, "abcd", string(b.Output()))

	_, _ = b.Write([]byte("efghij"))
	assert.True(t, b.Truncated())
	assert.Equal(t, int64(10), b.TotalBytes())
	assert.Equal(t, "cdefghij", string(b.Bytes()))
	assert.Equal(t, "[output truncated: 2 earlier bytes dropped]\ncdefghij", string(b.Output()))
}
