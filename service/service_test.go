package service

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testorch/reporting"
	"github.com/ethereum-optimism/infra/op-testorch/runner"
)

func TestStatusServer_Routes(t *testing.T) {
	progress := runner.NewProgressTracker()
	progress.StartRun(3)
	progress.StartIteration("run:a#1")
	progress.FinishIteration("run:a#1", true)
	progress.StartIteration("run:b#1")

	srv := httptest.NewServer(NewStatusServer(log.NewLogger(log.DiscardHandler()), progress, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap runner.ProgressSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 1, snap.Passed)
	require.Len(t, snap.Running, 1)
	assert.Equal(t, "run:b#1", snap.Running[0].Key)

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/report")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode, "no report before publication")
}

func TestStatusServer_Report(t *testing.T) {
	published := reporting.JSONReport{
		RunID: "run-1",
		Tests: []reporting.JSONTest{
			{Name: "core/time_test", Classification: "FLAKEY", FailedIterations: []int{2}},
		},
	}
	source := func() (reporting.JSONReport, bool) { return published, true }
	srv := httptest.NewServer(NewStatusServer(log.NewLogger(log.DiscardHandler()), nil, source).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report reporting.JSONReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "run-1", report.RunID)

	resp2, err := http.Get(srv.URL + "/report/core/time_test")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var test reporting.JSONTest
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&test))
	assert.Equal(t, []int{2}, test.FailedIterations)

	resp3, err := http.Get(srv.URL + "/report/missing")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestService_Disabled(t *testing.T) {
	s := New(Config{Log: log.NewLogger(log.DiscardHandler())})
	s.Start()
	s.Shutdown()
	assert.NotNil(t, s.Status)
}

func TestService_StartThenShutdown(t *testing.T) {
	s := New(Config{Log: log.NewLogger(log.DiscardHandler()), Enabled: true, Addr: "127.0.0.1:0"})
	s.Start()
	addr := s.Status.Addr()
	require.NotEmpty(t, addr)
	s.Shutdown()

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "status server must not accept connections after shutdown")
}

func TestService_Serves(t *testing.T) {
	progress := runner.NewProgressTracker()
	s := New(Config{Log: log.NewLogger(log.DiscardHandler()), Enabled: true, Addr: "127.0.0.1:0", Progress: progress})
	s.Start()
	defer s.Shutdown()

	resp, err := http.Get("http://" + s.Status.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestService_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(Config{Log: log.NewLogger(log.DiscardHandler()), Enabled: true, Addr: ln.Addr().String()})
	s.Start()
	assert.Empty(t, s.Status.Addr())
	s.Shutdown()
}
