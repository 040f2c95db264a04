package preferences

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/venuescout/pkg/models"
)

const testMapping = `
hobbies:
  Reading: [Quiet, Cafe]
  Working Remotely: [wifi, quiet]
food:
  Coffee: [coffeeshop, cafe]
thematic:
  Cozy: [cozy, Quiet]
lifestyle:
  Coffee: [espresso]
`

func parseTestMapping(t *testing.T) *Mapping {
	t.Helper()
	m, err := ParseMapping([]byte(testMapping))
	require.NoError(t, err)
	return m
}

func TestDefaultMapping_Loads(t *testing.T) {
	m := DefaultMapping()
	assert.Greater(t, m.Len(), 20)
	assert.Contains(t, m.Tags("coffee"), "coffeeshop")
	// Mapped tags are normalized.
	assert.Contains(t, m.Tags("Working Remotely"), "poweroutlets")
}

func TestParseMapping_MergesSectionsAndNormalizes(t *testing.T) {
	m := parseTestMapping(t)

	assert.Equal(t, []string{"quiet", "cafe"}, m.Tags("reading"))
	assert.ElementsMatch(t, []string{"coffeeshop", "cafe", "espresso"}, m.Tags("  COFFEE "))
	assert.Nil(t, m.Tags("skydiving"))
}

func TestParseMapping_InvalidYAML(t *testing.T) {
	_, err := ParseMapping([]byte("hobbies: [unterminated"))
	require.Error(t, err)
}

func TestBuildInitialWeights_SingleLabel(t *testing.T) {
	m := parseTestMapping(t)

	weights := m.BuildInitialWeights(models.PreferenceSelections{Hobbies: []string{"Reading"}})

	assert.Equal(t, models.TagWeights{"quiet": 0.7, "cafe": 0.7}, weights)
}

func TestBuildInitialWeights_AccumulatesAndCaps(t *testing.T) {
	m := parseTestMapping(t)

	weights := m.BuildInitialWeights(models.PreferenceSelections{
		Hobbies:             []string{"Reading", "Working Remotely"},
		FoodPreferences:     []string{"Coffee"},
		ThematicPreferences: []string{"Cozy"},
	})

	// quiet: reading + remote + cozy = 2.1, capped.
	assert.InDelta(t, 1.0, weights.Get("quiet"), 1e-9)
	// cafe: reading + coffee = 1.4, capped.
	assert.InDelta(t, 1.0, weights.Get("cafe"), 1e-9)
	assert.InDelta(t, 0.7, weights.Get("wifi"), 1e-9)
	assert.InDelta(t, 0.7, weights.Get("cozy"), 1e-9)
	assert.InDelta(t, 0.7, weights.Get("espresso"), 1e-9)
	for tag, w := range weights {
		assert.LessOrEqual(t, w, models.MaxWeight, tag)
		assert.GreaterOrEqual(t, w, 0.0, tag)
	}
}

func TestBuildInitialWeights_UnmappedAndEmpty(t *testing.T) {
	m := parseTestMapping(t)

	assert.Empty(t, m.BuildInitialWeights(models.PreferenceSelections{}))
	assert.Empty(t, m.BuildInitialWeights(models.PreferenceSelections{
		LifestylePreferences: []string{"Skydiving", ""},
	}))
}

func TestLoadMapping(t *testing.T) {
	t.Run("empty path uses builtin", func(t *testing.T) {
		m, err := LoadMapping("")
		require.NoError(t, err)
		assert.Equal(t, DefaultMapping().Len(), m.Len())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mapping.yaml")
		require.NoError(t, os.WriteFile(path, []byte(testMapping), 0o600))

		m, err := LoadMapping(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"wifi", "quiet"}, m.Tags("working remotely"))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadMapping(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}
