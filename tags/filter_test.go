package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testorch/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		filter   string
		positive []string
		negative []string
	}{
		{name: "default", filter: "all", positive: []string{"all"}},
		{name: "mixed", filter: "all,-longrun,+performance", positive: []string{"all", "performance"}, negative: []string{"longrun"}},
		{name: "whitespace and empties", filter: " all , ,-slow,", positive: []string{"all"}, negative: []string{"slow"}},
		{name: "bare sign ignored", filter: "-,+,all", positive: []string{"all"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Parse(tt.filter)
			assert.ElementsMatch(t, tt.positive, f.Positive.Sorted())
			assert.ElementsMatch(t, tt.negative, f.Negative.Sorted())
		})
	}
}

func TestIncluded(t *testing.T) {
	all := types.NewTagSet("all")
	empty := types.NewTagSet()

	// swapping positive and negative for a test tagged only "all"
	assert.True(t, Included(all, all, empty))
	assert.False(t, Included(all, empty, all))

	tests := []struct {
		name     string
		tags     []string
		filter   string
		included bool
	}{
		{name: "all runs everything", tags: []string{"all", "longrun"}, filter: "all", included: true},
		{name: "negative wins", tags: []string{"all", "longrun"}, filter: "all,-longrun", included: false},
		{name: "no positive match", tags: []string{"all"}, filter: "longrun", included: false},
		{name: "positive match only on one tag", tags: []string{"all", "fast"}, filter: "fast,-slow", included: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Parse(tt.filter)
			assert.Equal(t, tt.included, f.Included(types.NewTagSet(tt.tags...)))
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Parse("all,-longrun").Validate())

	for _, filter := range []string{"all,-all", "a,b,-b", "+x,-x,-y,y"} {
		err := Parse(filter).Validate()
		require.Error(t, err, filter)
		assert.True(t, types.IsConfigError(err), filter)
	}
}

func TestExclude(t *testing.T) {
	f := Parse("all,novalgrind")
	f.Exclude("novalgrind")
	require.NoError(t, f.Validate())
	assert.True(t, f.Negative.Has("novalgrind"))
	assert.False(t, f.Positive.Has("novalgrind"))
	assert.Equal(t, "+all,-novalgrind", f.String())
}

func TestDecide(t *testing.T) {
	f := Parse("all")

	perf := types.NewTestSpec("perf", "/bin/perf", []string{"performance"}, 1)
	assert.False(t, f.Decide(perf, false).Run)
	assert.True(t, f.Decide(perf, true).Run)

	// the performance flag does not bypass the negative filter
	assert.False(t, Parse("all,-performance").Decide(perf, true).Run)

	plain := types.NewTestSpec("plain", "/bin/plain", nil, 1)
	d := Parse("all,-all").Decide(plain, false)
	assert.False(t, d.Run)
	assert.Contains(t, d.Reason, "excluded")
}
