// Package exitcodes lists the process exit statuses of op-testorch.
package exitcodes

const (
	// Success: every requested target built, including a passing or tolerated test report.
	Success = 0
	// TestFailure: the graph ran and at least one requested target failed or was not built.
	TestFailure = 1
	// RuntimeErr: the build could not be planned, e.g. bad flags, manifest or targets.
	RuntimeErr = 2
)
