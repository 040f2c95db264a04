package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampWeight(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"inside", 0.3, 0.3},
		{"above", 1.7, 1},
		{"below", -3, -1},
		{"upper bound", 1, 1},
		{"nan", math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampWeight(tt.in))
		})
	}
}

func TestTagWeights_SetClamps(t *testing.T) {
	w := TagWeights{}
	w.Set("cozy", 4)
	w.Set("loud", -4)

	assert.Equal(t, 1.0, w.Get("cozy"))
	assert.Equal(t, -1.0, w.Get("loud"))
	assert.Equal(t, 0.0, w.Get("missing"))
}

func TestFeedbackCounts_CountFloor(t *testing.T) {
	c := FeedbackCounts{"cozy": 3, "broken": 0}

	assert.Equal(t, 3, c.Count("cozy"))
	assert.Equal(t, 1, c.Count("broken"))
	assert.Equal(t, 1, c.Count("missing"))
}

func TestAffinityProfile_CloneIsIndependent(t *testing.T) {
	p := NewAffinityProfile("u1")
	p.Weights.Set("cozy", 0.5)
	p.FeedbackCounts["cozy"] = 2

	c := p.Clone()
	c.Weights.Set("cozy", -0.5)
	c.FeedbackCounts["cozy"] = 9

	assert.Equal(t, 0.5, p.Weights.Get("cozy"))
	assert.Equal(t, 2, p.FeedbackCounts["cozy"])
	assert.Nil(t, (*AffinityProfile)(nil).Clone())
}

func TestParseFeedbackLabel(t *testing.T) {
	for _, raw := range []string{"up", " DOWN ", "None"} {
		label, err := ParseFeedbackLabel(raw)
		require.NoError(t, err, raw)
		assert.True(t, label.Valid())
	}

	_, err := ParseFeedbackLabel("sideways")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFeedback)
}

func TestFeedbackLabel_Explicit(t *testing.T) {
	assert.True(t, FeedbackUp.Explicit())
	assert.True(t, FeedbackDown.Explicit())
	assert.False(t, FeedbackNone.Explicit())
	assert.False(t, FeedbackLabel("").Explicit())

	assert.Equal(t, 1.0, FeedbackUp.Sign())
	assert.Equal(t, -1.0, FeedbackDown.Sign())
	assert.Equal(t, 0.0, FeedbackNone.Sign())
}

func TestScoreRecord_HasExplicitFeedback(t *testing.T) {
	var nilRec *ScoreRecord
	assert.False(t, nilRec.HasExplicitFeedback())
	assert.False(t, (&ScoreRecord{Feedback: FeedbackNone}).HasExplicitFeedback())
	assert.True(t, (&ScoreRecord{Feedback: FeedbackDown}).HasExplicitFeedback())
}

func TestTagSet(t *testing.T) {
	s := NewTagSet("wifi", "cozy", "", "wifi")
	assert.Len(t, s, 2)
	assert.False(t, s.Add("cozy"))
	assert.True(t, s.Add("vegan"))
	assert.False(t, s.Add(""))
	assert.Equal(t, []string{"cozy", "vegan", "wifi"}, s.Sorted())
}

func TestPreferenceSelections_Labels(t *testing.T) {
	s := PreferenceSelections{
		Hobbies:              []string{"Reading"},
		FoodPreferences:      []string{"Vegan", "Coffee"},
		LifestylePreferences: []string{"Night Owl"},
	}
	assert.Equal(t, []string{"Reading", "Vegan", "Coffee", "Night Owl"}, s.Labels())
}

func TestJSONColumns_RoundTripThroughDriver(t *testing.T) {
	weights := JSONFloatMap{"cozy": 0.5}
	v, err := weights.Value()
	require.NoError(t, err)

	var back JSONFloatMap
	require.NoError(t, back.Scan(v))
	assert.Equal(t, weights, back)

	var arr JSONStringArray
	require.NoError(t, arr.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, JSONStringArray{"a", "b"}, arr)

	require.NoError(t, arr.Scan(nil))
	assert.Nil(t, arr)

	var counts JSONIntMap
	assert.Error(t, counts.Scan(42))
}
