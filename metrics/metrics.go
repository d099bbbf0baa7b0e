package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-testorch/types"
)

const (
	MetricsNamespace = "testorch"

	ResultPass = "pass"
	ResultFail = "fail"
)

var (
	Debug                bool
	nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	iterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "iterations_total",
		Help:      "Count of executed test iterations",
	}, []string{
		"result",
	})

	iterationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "iteration_duration_seconds",
		Help:      "Wall-clock duration of test iterations",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{
		"result",
	})

	gateWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "gate_wait_seconds",
		Help:      "Time spent waiting for a concurrency slot",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	activeProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "active_processes",
		Help:      "Number of test processes currently running",
	})

	graphActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "graph_actions_total",
		Help:      "Count of build graph actions by outcome",
	}, []string{
		"result",
	})

	testResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "test_results",
		Help:      "Number of tests per final classification",
	}, []string{
		"run_id",
		"classification",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func resultLabel(passed bool) string {
	if passed {
		return ResultPass
	}
	return ResultFail
}

// RecordIteration counts one finished iteration and observes its duration
func RecordIteration(test string, passed bool, duration time.Duration) {
	result := resultLabel(passed)
	if Debug {
		log.Debug("metric inc",
			"m", "iterations_total",
			"test", test,
			"result", result,
			"duration", duration)
	}
	iterationsTotal.WithLabelValues(result).Inc()
	iterationDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordGateWait observes how long an iteration waited for a concurrency slot
func RecordGateWait(wait time.Duration) {
	gateWait.Observe(wait.Seconds())
}

// ProcessStarted increments the live child process gauge
func ProcessStarted() {
	activeProcesses.Inc()
}

// ProcessExited decrements the live child process gauge
func ProcessExited() {
	activeProcesses.Dec()
}

// RecordGraphAction counts a finished build graph action
func RecordGraphAction(succeeded bool) {
	graphActionsTotal.WithLabelValues(resultLabel(succeeded)).Inc()
}

// RecordClassifications publishes the final per-classification test counts of a run
func RecordClassifications(runID string, passed, failed, flakey int) {
	testResults.WithLabelValues(runID, string(types.ClassificationPassed)).Set(float64(passed))
	testResults.WithLabelValues(runID, string(types.ClassificationFailed)).Set(float64(failed))
	testResults.WithLabelValues(runID, string(types.ClassificationFlakey)).Set(float64(flakey))
}
