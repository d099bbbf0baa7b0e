package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testorch/tags"
)

func TestParseDistro(t *testing.T) {
	ubuntu := `NAME="Ubuntu"
VERSION="22.04.4 LTS (Jammy Jellyfish)"
ID=ubuntu
VERSION_CODENAME=jammy
`
	assert.Equal(t, "jammy", parseDistro(strings.NewReader(ubuntu)))
	assert.Equal(t, "alpine", parseDistro(strings.NewReader("ID=alpine\n# comment\nbroken line\n")))
	assert.Equal(t, "", parseDistro(strings.NewReader("")))
}

func TestDetect(t *testing.T) {
	info := Detect()
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Distro)
	assert.Positive(t, info.CPUs)
}

func TestQualifyFilter(t *testing.T) {
	info := Info{Distro: "jammy"}

	t.Run("memcheck moves novalgrind to the negative set", func(t *testing.T) {
		f := tags.Parse("all,novalgrind")
		info.QualifyFilter(f, true, true)
		require.NoError(t, f.Validate())
		assert.True(t, f.Negative.Has("novalgrind"))
		assert.True(t, f.Negative.Has("novalgrind-jammy"))
		assert.False(t, f.Positive.Has("novalgrind"))
		assert.False(t, f.Negative.Has("nodebug"))
	})

	t.Run("debug builds exclude nodebug", func(t *testing.T) {
		f := tags.Parse("all")
		info.QualifyFilter(f, false, false)
		assert.True(t, f.Negative.Has("nodebug"))
		assert.False(t, f.Negative.Has("novalgrind"))
	})

	t.Run("explicit nodebug conflicts", func(t *testing.T) {
		f := tags.Parse("all,nodebug")
		info.QualifyFilter(f, false, false)
		assert.Error(t, f.Validate())
	})
}
