// Package service runs the optional HTTP status endpoint next to a build.
package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testorch/metrics"
	"github.com/ethereum-optimism/infra/op-testorch/runner"
)

const shutdownTimeout = 5 * time.Second

// Config of the Service
type Config struct {
	Log      log.Logger
	Enabled  bool
	Addr     string
	Progress runner.ProgressIndicator
	Report   ReportSource
}

// Service owns the status server lifecycle. A disabled Service does nothing.
type Service struct {
	cfg    Config
	Status *StatusServer
}

// New creates a Service
func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Service{
		cfg:    cfg,
		Status: NewStatusServer(cfg.Log, cfg.Progress, cfg.Report),
	}
}

// Start binds the status address and serves in the background. The listener is
// bound before Start returns so a following Shutdown always stops the server.
func (s *Service) Start() {
	if !s.cfg.Enabled {
		return
	}
	if err := s.Status.Listen(s.cfg.Addr); err != nil {
		s.cfg.Log.Error("Error starting status server", "addr", s.cfg.Addr, "err", err)
		metrics.RecordErrorDetails("status_server", err)
		return
	}
	s.cfg.Log.Info("Starting status server", "addr", s.Status.Addr())
	go func() {
		if err := s.Status.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Log.Error("Error serving status", "err", err)
			metrics.RecordErrorDetails("status_server", err)
		}
	}()
}

// Shutdown stops the status server
func (s *Service) Shutdown() {
	if !s.cfg.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.Status.Shutdown(ctx)
	s.cfg.Log.Info("Status server stopped")
}
