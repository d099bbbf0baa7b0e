package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		passed int
		failed int
		want   Classification
		ok     bool
	}{
		{name: "all passed", passed: 3, failed: 0, want: ClassificationPassed, ok: true},
		{name: "all failed", passed: 0, failed: 3, want: ClassificationFailed, ok: true},
		{name: "some failed", passed: 2, failed: 1, want: ClassificationFlakey, ok: true},
		{name: "nothing recorded", passed: 0, failed: 0, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.passed, tt.failed)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTestSpec(t *testing.T) {
	t.Run("adds implicit all tag", func(t *testing.T) {
		spec := NewTestSpec("core/time_test", "/build/core/time_test", nil, 1)
		assert.True(t, spec.Tags.Has(TagAll))
		assert.Equal(t, "time_test", spec.BaseName())
		assert.Equal(t, TimeoutClassDefault, spec.TimeoutClass)
	})

	t.Run("timeout classes", func(t *testing.T) {
		assert.Equal(t, TimeoutClassLongRun, NewTestSpec("a", "/a", []string{"longrun"}, 1).TimeoutClass)
		assert.Equal(t, TimeoutClassLongLongRun, NewTestSpec("a", "/a", []string{"longlongrun"}, 1).TimeoutClass)
		assert.Equal(t, TimeoutClassLongRun, NewTestSpec("a", "/a", []string{"longlongrun", "longrun"}, 1).TimeoutClass)
	})

	t.Run("runner from runby tag", func(t *testing.T) {
		spec := NewTestSpec("a", "/a", []string{"runby.lua"}, 1)
		assert.Equal(t, "lua", spec.Runner())
		assert.Equal(t, "", NewTestSpec("a", "/a", nil, 1).Runner())
	})

	t.Run("iteration key", func(t *testing.T) {
		spec := NewTestSpec("core/time_test", "/a", nil, 2)
		assert.Equal(t, "run:core/time_test#2", spec.IterationKey(2))
	})
}

func TestTimeoutClass_BaseTimeout(t *testing.T) {
	assert.Equal(t, 90*time.Second, TimeoutClassDefault.BaseTimeout())
	assert.Equal(t, 240*time.Second, TimeoutClassLongRun.BaseTimeout())
	assert.Equal(t, 600*time.Second, TimeoutClassLongLongRun.BaseTimeout())
}

func TestTagSet(t *testing.T) {
	a := NewTagSet("all", "longrun", "")
	b := NewTagSet("longrun", "performance")

	require.Len(t, a, 2)
	assert.True(t, a.Intersects(b))
	assert.Equal(t, []string{"longrun"}, a.Intersection(b))
	assert.False(t, a.Intersects(NewTagSet("nodebug")))

	c := a.Clone()
	c.Remove("all")
	assert.True(t, a.Has("all"), "clone must not alias the original")
	assert.Equal(t, []string{"longrun"}, c.Sorted())
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("test-tags-filter", "tag %q is both positive and negative", "x")
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "test-tags-filter")
	assert.False(t, IsConfigError(nil))
	assert.True(t, IsBuildFailureError(&BuildFailureError{Failed: 1}))
}
