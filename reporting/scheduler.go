// Package reporting turns the recorded test outcomes into the final report:
// the run-once report action, the end-of-build summary and the JSON report.
package reporting

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testorch/metrics"
	"github.com/ethereum-optimism/infra/op-testorch/results"
	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// ReportNodeName is the build graph action that publishes the report
const ReportNodeName = "testreport"

// State of a Scheduler
type State int32

const (
	StatePending State = iota
	StateFired
)

func (s State) String() string {
	if s == StateFired {
		return "fired"
	}
	return "pending"
}

// Scheduler is the deferred report action. It is declared in the build graph
// with dependency edges on every scheduled test iteration, so by the time it runs
// every iteration has recorded its outcome. It fires at most once.
type Scheduler struct {
	log       log.Logger
	store     *results.Store
	runID     string
	failBuild bool

	state     atomic.Int32
	mu        sync.Mutex
	published results.Snapshot
}

// NewScheduler creates a pending Scheduler. With failBuild set, a report
// containing any FAILED or FLAKEY test fails the action.
func NewScheduler(logger log.Logger, store *results.Store, runID string, failBuild bool) *Scheduler {
	if logger == nil {
		logger = log.New()
	}
	return &Scheduler{
		log:       logger,
		store:     store,
		runID:     runID,
		failBuild: failBuild,
	}
}

// Action is the build graph action body
func (s *Scheduler) Action(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StatePending), int32(StateFired)) {
		s.log.Warn("Test report already generated")
		return nil
	}

	snap := s.store.Snapshot()
	s.mu.Lock()
	s.published = snap
	s.mu.Unlock()

	tally := snap.Tally()
	metrics.RecordClassifications(s.runID, tally.Passed, tally.Failed, tally.Flakey)
	s.log.Info("Test report generated", "tests", len(snap),
		"passed", tally.Passed, "failed", tally.Failed, "flakey", tally.Flakey)

	if s.failBuild && !tally.AllPassed() {
		return &types.BuildFailureError{Failed: tally.Failed, Flakey: tally.Flakey}
	}
	return nil
}

// State returns the current state
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Published returns the report snapshot once the action has fired
func (s *Scheduler) Published() (results.Snapshot, bool) {
	if s.State() != StateFired {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published, true
}

// FailBuild reports whether failed tests fail the build
func (s *Scheduler) FailBuild() bool {
	return s.failBuild
}
