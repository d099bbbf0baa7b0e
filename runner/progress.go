package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// ProgressIndicator tracks iterations as they start and finish
type ProgressIndicator interface {
	StartRun(totalIterations int)
	StartIteration(key string)
	FinishIteration(key string, passed bool)
	CompleteRun()
	Snapshot() ProgressSnapshot
	Stop()
}

// RunningIteration is an iteration that has started but not finished
type RunningIteration struct {
	Key     string        `json:"key"`
	Elapsed time.Duration `json:"elapsed"`
}

// ProgressSnapshot is a point-in-time view of run progress
type ProgressSnapshot struct {
	Total     int                `json:"total"`
	Completed int                `json:"completed"`
	Passed    int                `json:"passed"`
	Failed    int                `json:"failed"`
	Running   []RunningIteration `json:"running"`
	Elapsed   time.Duration      `json:"elapsed"`
	Done      bool               `json:"done"`
}

// progressTracker keeps counters for the status endpoint and, when a logger
// is attached, periodically logs a progress line.
type progressTracker struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	stop   sync.Once
	mu     sync.RWMutex

	totalIterations int
	completed       int
	passed          int
	failed          int
	startTime       time.Time
	done            bool

	// iteration key -> start time
	runningIterations map[string]time.Time
}

// NewProgressTracker creates an indicator that only keeps counters
func NewProgressTracker() ProgressIndicator {
	return &progressTracker{
		stopCh:            make(chan struct{}),
		runningIterations: make(map[string]time.Time),
	}
}

// NewConsoleProgressIndicator creates an indicator that also logs progress every updateInterval
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}
	p := &progressTracker{
		logger:            logger,
		ticker:            time.NewTicker(updateInterval),
		stopCh:            make(chan struct{}),
		runningIterations: make(map[string]time.Time),
	}
	go p.progressReporter()
	return p
}

func (p *progressTracker) StartRun(totalIterations int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalIterations = totalIterations
	p.completed, p.passed, p.failed = 0, 0, 0
	p.startTime = time.Now()
	p.done = false
	p.runningIterations = make(map[string]time.Time)

	if p.logger != nil {
		p.logger.Info("Starting tests", "iterations", totalIterations)
	}
}

func (p *progressTracker) StartIteration(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runningIterations[key] = time.Now()
}

func (p *progressTracker) FinishIteration(key string, passed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.runningIterations, key)
	p.completed++
	if passed {
		p.passed++
	} else {
		p.failed++
	}
}

func (p *progressTracker) CompleteRun() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = true
	if p.logger != nil {
		p.logger.Info("Completed tests", "completed", p.completed, "total", p.totalIterations,
			"failed", p.failed, "duration", time.Since(p.startTime).Truncate(time.Second))
	}
}

func (p *progressTracker) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := ProgressSnapshot{
		Total:     p.totalIterations,
		Completed: p.completed,
		Passed:    p.passed,
		Failed:    p.failed,
		Done:      p.done,
		Running:   sortRunning(p.runningIterations),
	}
	if !p.startTime.IsZero() {
		snap.Elapsed = time.Since(p.startTime)
	}
	return snap
}

// progressReporter runs in a goroutine and periodically reports progress
func (p *progressTracker) progressReporter() {
	for {
		select {
		case <-p.ticker.C:
			p.reportProgress()
		case <-p.stopCh:
			return
		}
	}
}

func (p *progressTracker) reportProgress() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var percentComplete float64
	if p.totalIterations > 0 {
		percentComplete = float64(p.completed) * 100.0 / float64(p.totalIterations)
	}

	p.logger.Info("Progress update",
		"completed", p.completed,
		"total", p.totalIterations,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"failed", p.failed,
		"numRunning", len(p.runningIterations),
		"longestRunning", formatRunningIterations(p.runningIterations, 3),
	)
}

// Stop stops the periodic reporter; it is safe to call more than once
func (p *progressTracker) Stop() {
	p.stop.Do(func() {
		if p.ticker != nil {
			p.ticker.Stop()
		}
		close(p.stopCh)
	})
}

// sortRunning orders running iterations longest first
func sortRunning(running map[string]time.Time) []RunningIteration {
	out := make([]RunningIteration, 0, len(running))
	now := time.Now()
	for key, start := range running {
		out = append(out, RunningIteration{Key: key, Elapsed: now.Sub(start)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Elapsed == out[j].Elapsed {
			return out[i].Key < out[j].Key
		}
		return out[i].Elapsed > out[j].Elapsed
	})
	return out
}

// formatRunningIterations lists at most maxShow of the longest running iterations
func formatRunningIterations(running map[string]time.Time, maxShow int) string {
	if len(running) == 0 {
		return ""
	}

	sorted := sortRunning(running)
	var parts []string
	for i, it := range sorted {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", it.Key, it.Elapsed.Truncate(time.Second)))
	}
	if len(sorted) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(sorted)-maxShow))
	}
	return strings.Join(parts, ", ")
}
