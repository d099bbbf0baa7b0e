// Package tags decides which declared tests participate in a run.
package tags

import (
	"strings"

	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// Filter holds the global positive and negative tag sets
type Filter struct {
	Positive types.TagSet
	Negative types.TagSet
}

// Parse splits a comma-separated filter string into positive and negative sets.
// "-tag" is negative, "+tag" and bare "tag" are positive. Empty tokens are ignored.
// The result is not validated; callers inject platform tags first and then call Validate.
func Parse(filter string) Filter {
	f := Filter{
		Positive: types.NewTagSet(),
		Negative: types.NewTagSet(),
	}
	for _, token := range strings.Split(filter, ",") {
		token = strings.TrimSpace(token)
		switch {
		case strings.HasPrefix(token, "-"):
			if tag := strings.TrimLeft(token, "-"); tag != "" {
				f.Negative.Add(tag)
			}
		case strings.HasPrefix(token, "+"):
			if tag := strings.TrimLeft(token, "+"); tag != "" {
				f.Positive.Add(tag)
			}
		case token != "":
			f.Positive.Add(token)
		}
	}
	return f
}

// Exclude forces a tag into the negative set and drops it from the positive set
func (f Filter) Exclude(tag string) {
	f.Positive.Remove(tag)
	f.Negative.Add(tag)
}

// Validate fails when a tag is both positive and negative
func (f Filter) Validate() error {
	if common := f.Positive.Intersection(f.Negative); len(common) > 0 {
		return types.NewConfigError("test-tags-filter", "a tag cannot be both positive and negative: %s", strings.Join(common, ","))
	}
	return nil
}

// Included reports whether a test carrying tags passes the filter
func (f Filter) Included(tags types.TagSet) bool {
	return Included(tags, f.Positive, f.Negative)
}

// String renders the filter back into its comma-separated form
func (f Filter) String() string {
	parts := make([]string, 0, len(f.Positive)+len(f.Negative))
	for _, tag := range f.Positive.Sorted() {
		parts = append(parts, "+"+tag)
	}
	for _, tag := range f.Negative.Sorted() {
		parts = append(parts, "-"+tag)
	}
	return strings.Join(parts, ",")
}

// Included is true iff tags share at least one tag with positive and none with negative
func Included(tags, positive, negative types.TagSet) bool {
	return tags.Intersects(positive) && !tags.Intersects(negative)
}

// Decision is the outcome of evaluating one test for participation
type Decision struct {
	Run    bool
	Reason string
}

// Decide applies the performance rule and then the tag filter to a test.
// Performance tests are skipped unless runPerformance is set, regardless of the filter.
func (f Filter) Decide(spec types.TestSpec, runPerformance bool) Decision {
	if spec.IsPerformance() && !runPerformance {
		return Decision{Run: false, Reason: "performance tests disabled"}
	}
	if !spec.Tags.Intersects(f.Positive) {
		return Decision{Run: false, Reason: "no positive tag matched"}
	}
	if common := spec.Tags.Intersection(f.Negative); len(common) > 0 {
		return Decision{Run: false, Reason: "excluded by tag " + strings.Join(common, ",")}
	}
	return Decision{Run: true}
}
