// Package results accumulates iteration outcomes for every test in a run.
package results

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// AggregateResult holds every recorded iteration of one test, split by outcome.
// An iteration number appears in at most one of the two maps.
type AggregateResult struct {
	Name   string
	Passed map[int]types.IterationOutcome
	Failed map[int]types.IterationOutcome
}

func newAggregateResult(name string) *AggregateResult {
	return &AggregateResult{
		Name:   name,
		Passed: make(map[int]types.IterationOutcome),
		Failed: make(map[int]types.IterationOutcome),
	}
}

// Classification derives PASSED, FAILED or FLAKEY from the recorded iterations
func (a AggregateResult) Classification() (types.Classification, bool) {
	return types.Classify(len(a.Passed), len(a.Failed))
}

// Count returns the number of recorded iterations
func (a AggregateResult) Count() int {
	return len(a.Passed) + len(a.Failed)
}

// FailedIterations returns the failed iteration numbers in ascending order
func (a AggregateResult) FailedIterations() []int {
	return sortedKeys(a.Failed)
}

// PassedIterations returns the passed iteration numbers in ascending order
func (a AggregateResult) PassedIterations() []int {
	return sortedKeys(a.Passed)
}

// Iterations returns all recorded outcomes ordered by iteration number
func (a AggregateResult) Iterations() []types.IterationOutcome {
	out := make([]types.IterationOutcome, 0, a.Count())
	for _, o := range a.Passed {
		out = append(out, o)
	}
	for _, o := range a.Failed {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out
}

// Stats are timing statistics across every recorded iteration, passed and failed alike
type Stats struct {
	Count     int
	Mean      time.Duration
	StdDev    time.Duration // population standard deviation
	HasStdDev bool          // only set when more than one iteration was recorded
}

// Stats computes the mean and, for two or more iterations, the population standard deviation
func (a AggregateResult) Stats() Stats {
	outcomes := a.Iterations()
	durations := make([]time.Duration, len(outcomes))
	for i, o := range outcomes {
		durations[i] = o.Duration
	}
	return ComputeStats(durations)
}

// ComputeStats returns the arithmetic mean and population standard deviation of durations
func ComputeStats(durations []time.Duration) Stats {
	s := Stats{Count: len(durations)}
	if s.Count == 0 {
		return s
	}

	values := make([]float64, s.Count)
	for i, d := range durations {
		values[i] = d.Seconds()
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	s.Mean = secondsToDuration(mean)
	if s.Count > 1 {
		s.StdDev = secondsToDuration(std)
		s.HasStdDev = true
	}
	return s
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func (a *AggregateResult) clone() AggregateResult {
	c := AggregateResult{
		Name:   a.Name,
		Passed: make(map[int]types.IterationOutcome, len(a.Passed)),
		Failed: make(map[int]types.IterationOutcome, len(a.Failed)),
	}
	for k, v := range a.Passed {
		c.Passed[k] = v
	}
	for k, v := range a.Failed {
		c.Failed[k] = v
	}
	return c
}

// Store is the run-wide mapping from test name to AggregateResult.
// Many iterations write concurrently; each (test, iteration) cell is written once.
type Store struct {
	mu    sync.RWMutex
	tests map[string]*AggregateResult
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{tests: make(map[string]*AggregateResult)}
}

// Record inserts an outcome into the passed or failed map of the named test.
// It returns false, leaving the store untouched, if the iteration was already recorded.
func (s *Store) Record(name string, outcome types.IterationOutcome, passed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.tests[name]
	if !ok {
		agg = newAggregateResult(name)
		s.tests[name] = agg
	}
	if _, dup := agg.Passed[outcome.Iteration]; dup {
		return false
	}
	if _, dup := agg.Failed[outcome.Iteration]; dup {
		return false
	}
	if passed {
		agg.Passed[outcome.Iteration] = outcome
	} else {
		agg.Failed[outcome.Iteration] = outcome
	}
	return true
}

// Len returns the number of tests with at least one recorded iteration
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tests)
}

// Recorded returns the number of recorded iterations across all tests
func (s *Store) Recorded() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, agg := range s.tests {
		n += agg.Count()
	}
	return n
}

// Snapshot returns a deep copy of the store
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.tests))
	for name, agg := range s.tests {
		snap[name] = agg.clone()
	}
	return snap
}

// Snapshot is a frozen view of a Store
type Snapshot map[string]AggregateResult

// Names returns test names in lexicographic order
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tally counts tests per classification
type Tally struct {
	Passed int
	Failed int
	Flakey int
}

// Tally counts tests per classification
func (s Snapshot) Tally() Tally {
	var t Tally
	for _, agg := range s {
		class, ok := agg.Classification()
		if !ok {
			continue
		}
		switch class {
		case types.ClassificationPassed:
			t.Passed++
		case types.ClassificationFailed:
			t.Failed++
		case types.ClassificationFlakey:
			t.Flakey++
		}
	}
	return t
}

// AllPassed reports whether no test failed on any iteration
func (t Tally) AllPassed() bool {
	return t.Failed == 0 && t.Flakey == 0
}

func sortedKeys(m map[int]types.IterationOutcome) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
