package types

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// Well-known tags with built-in meaning
const (
	TagAll         = "all"
	TagPerformance = "performance"
	TagLongRun     = "longrun"
	TagLongLongRun = "longlongrun"
	TagNoValgrind  = "novalgrind"
	TagNoDebug     = "nodebug"

	// RunByTagPrefix selects a named runner, e.g. "runby.lua"
	RunByTagPrefix = "runby."
)

// Classification is the derived disposition of a test across all its iterations
type Classification string

const (
	ClassificationPassed Classification = "PASSED"
	ClassificationFailed Classification = "FAILED"
	ClassificationFlakey Classification = "FLAKEY"
)

// Classify returns the classification for the given pass/fail iteration counts.
// A test with no recorded iterations has no classification.
func Classify(passed, failed int) (Classification, bool) {
	switch {
	case passed > 0 && failed == 0:
		return ClassificationPassed, true
	case passed > 0 && failed > 0:
		return ClassificationFlakey, true
	case failed > 0:
		return ClassificationFailed, true
	default:
		return "", false
	}
}

// TagSet is an unordered set of opaque tag strings
type TagSet map[string]struct{}

// NewTagSet builds a TagSet from a list of tags, ignoring empty strings
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		s[tag] = struct{}{}
	}
	return s
}

// Has reports whether the tag is in the set
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Add inserts a tag
func (s TagSet) Add(tag string) {
	s[tag] = struct{}{}
}

// Remove deletes a tag if present
func (s TagSet) Remove(tag string) {
	delete(s, tag)
}

// Intersection returns the sorted list of tags present in both sets
func (s TagSet) Intersection(other TagSet) []string {
	var common []string
	for tag := range s {
		if other.Has(tag) {
			common = append(common, tag)
		}
	}
	sort.Strings(common)
	return common
}

// Intersects reports whether the two sets share at least one tag
func (s TagSet) Intersects(other TagSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for tag := range small {
		if large.Has(tag) {
			return true
		}
	}
	return false
}

// Sorted returns the tags in lexicographic order
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for tag := range s {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set
func (s TagSet) Clone() TagSet {
	out := make(TagSet, len(s))
	for tag := range s {
		out[tag] = struct{}{}
	}
	return out
}

// TimeoutClass is the base timeout bucket a test falls into based on its tags
type TimeoutClass string

const (
	TimeoutClassDefault     TimeoutClass = "default"
	TimeoutClassLongRun     TimeoutClass = TagLongRun
	TimeoutClassLongLongRun TimeoutClass = TagLongLongRun
)

// BaseTimeout returns the unscaled timeout for the class
func (c TimeoutClass) BaseTimeout() time.Duration {
	switch c {
	case TimeoutClassLongRun:
		return 240 * time.Second
	case TimeoutClassLongLongRun:
		return 600 * time.Second
	default:
		return 90 * time.Second
	}
}

// TimeoutClassFor picks the timeout class from a tag set; "longrun" wins over "longlongrun"
func TimeoutClassFor(tags TagSet) TimeoutClass {
	if tags.Has(TagLongRun) {
		return TimeoutClassLongRun
	}
	if tags.Has(TagLongLongRun) {
		return TimeoutClassLongLongRun
	}
	return TimeoutClassDefault
}

// TestSpec is the immutable declaration of one test binary
type TestSpec struct {
	Name         string   // pretty name, unique across the manifest
	Binary       string   // absolute path to the test executable
	Tags         TagSet   // always contains "all"
	Args         []string // non-file arguments
	InputFiles   []string // absolute paths, appended after Args
	OutputFiles  []string // names relative to the per-iteration run dir
	InstallDeps  []string // build graph nodes that must complete before any iteration runs
	BuildDeps    []string // build graph nodes that produce the binary
	Iterations   int      // resolved iteration count (global default or override)
	TimeoutClass TimeoutClass
}

// NewTestSpec normalizes a declaration: it adds the implicit "all" tag and derives
// the timeout class from the tags.
func NewTestSpec(name, binary string, tags []string, iterations int) TestSpec {
	tagSet := NewTagSet(tags...)
	tagSet.Add(TagAll)
	return TestSpec{
		Name:         name,
		Binary:       binary,
		Tags:         tagSet,
		Iterations:   iterations,
		TimeoutClass: TimeoutClassFor(tagSet),
	}
}

// BaseName is the last element of the test name, used for per-test aliases
func (s TestSpec) BaseName() string {
	return path.Base(s.Name)
}

// Runner returns the runner requested through a "runby.<runner>" tag, if any
func (s TestSpec) Runner() string {
	for _, tag := range s.Tags.Sorted() {
		if strings.HasPrefix(tag, RunByTagPrefix) {
			return strings.TrimPrefix(tag, RunByTagPrefix)
		}
	}
	return ""
}

// IsPerformance reports whether the test is a performance test
func (s TestSpec) IsPerformance() bool {
	return s.Tags.Has(TagPerformance)
}

// IterationKey identifies one iteration of one test in the build graph
func (s TestSpec) IterationKey(iteration int) string {
	return fmt.Sprintf("run:%s#%d", s.Name, iteration)
}

// IterationOutcome is the result of one executed iteration
type IterationOutcome struct {
	Iteration int
	ExitCode  int
	Duration  time.Duration
	LogPath   string
}

// Passed reports whether the iteration exited with status 0
func (o IterationOutcome) Passed() bool {
	return o.ExitCode == 0
}
