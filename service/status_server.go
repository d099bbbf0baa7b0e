package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-testorch/reporting"
	"github.com/ethereum-optimism/infra/op-testorch/runner"
)

// ReportSource returns the published report, or false while tests are still running
type ReportSource func() (reporting.JSONReport, bool)

// StatusServer serves liveness, prometheus metrics, the progress of the running
// build and, once published, the test report
type StatusServer struct {
	log      log.Logger
	progress runner.ProgressIndicator
	report   ReportSource

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewStatusServer creates a StatusServer reporting from progress and report
func NewStatusServer(logger log.Logger, progress runner.ProgressIndicator, report ReportSource) *StatusServer {
	if logger == nil {
		logger = log.New()
	}
	if progress == nil {
		progress = runner.NewProgressTracker()
	}
	if report == nil {
		report = func() (reporting.JSONReport, bool) { return reporting.JSONReport{}, false }
	}
	return &StatusServer{log: logger, progress: progress, report: report}
}

// Handler returns the routed, CORS-enabled handler
func (s *StatusServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/report/{test:.+}", s.handleReportTest).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

// Listen binds addr and prepares the server, so Shutdown is effective as soon as it returns
func (s *StatusServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = ln
	s.server = &http.Server{
		Handler: s.Handler(),
		Addr:    ln.Addr().String(),
	}
	return nil
}

// Serve blocks serving on the bound listener until Shutdown is called
func (s *StatusServer) Serve() error {
	s.mu.Lock()
	server, ln := s.server, s.listener
	s.mu.Unlock()
	if server == nil {
		return errors.New("status server is not listening")
	}
	return server.Serve(ln)
}

// Addr returns the bound address, empty before Listen
func (s *StatusServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server. A server whose Serve has not started yet never serves.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server, ln := s.server, s.listener
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	// Serve may not have taken ownership of the listener yet
	if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.progress.Snapshot())
}

func (s *StatusServer) handleReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.report()
	if !ok {
		http.Error(w, "report not published yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, report)
}

func (s *StatusServer) handleReportTest(w http.ResponseWriter, r *http.Request) {
	report, ok := s.report()
	if !ok {
		http.Error(w, "report not published yet", http.StatusNotFound)
		return
	}
	name := mux.Vars(r)["test"]
	for _, test := range report.Tests {
		if test.Name == name {
			s.writeJSON(w, test)
			return
		}
	}
	http.Error(w, "unknown test", http.StatusNotFound)
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "err", err)
	}
}
