package models

import (
	"math"
	"time"
)

const (
	// MinWeight is the lower bound of every affinity weight.
	MinWeight = -1.0
	// MaxWeight is the upper bound of every affinity weight.
	MaxWeight = 1.0
)

// ClampWeight bounds w to [MinWeight, MaxWeight]. NaN collapses to 0.
func ClampWeight(w float64) float64 {
	if math.IsNaN(w) {
		return 0
	}
	return math.Max(MinWeight, math.Min(MaxWeight, w))
}

// TagWeights maps a tag to the user's affinity for it.
// Mutate through Set so the [-1, 1] bound holds.
type TagWeights map[string]float64

// Get returns the weight for tag, or 0 when absent.
func (w TagWeights) Get(tag string) float64 {
	return w[tag]
}

// Set stores a clamped weight for tag.
func (w TagWeights) Set(tag string, weight float64) {
	w[tag] = ClampWeight(weight)
}

// Clone returns an independent copy.
func (w TagWeights) Clone() TagWeights {
	out := make(TagWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// FeedbackCounts maps a tag to the number of relevant feedback events seen.
type FeedbackCounts map[string]int

// Count returns the damping denominator for tag. It is never below 1.
func (c FeedbackCounts) Count(tag string) int {
	if n := c[tag]; n > 0 {
		return n
	}
	return 1
}

// Clone returns an independent copy.
func (c FeedbackCounts) Clone() FeedbackCounts {
	out := make(FeedbackCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// AffinityProfile is a user's learned tag preferences.
type AffinityProfile struct {
	UpdatedAt      time.Time      `json:"updated_at"`
	Weights        TagWeights     `json:"weights"`
	FeedbackCounts FeedbackCounts `json:"feedback_counts"`
	UserID         string         `json:"user_id"`
}

// NewAffinityProfile returns an empty profile for userID.
func NewAffinityProfile(userID string) *AffinityProfile {
	return &AffinityProfile{
		UserID:         userID,
		Weights:        TagWeights{},
		FeedbackCounts: FeedbackCounts{},
	}
}

// Clone returns a deep copy of the profile.
func (p *AffinityProfile) Clone() *AffinityProfile {
	if p == nil {
		return nil
	}
	return &AffinityProfile{
		UserID:         p.UserID,
		Weights:        p.Weights.Clone(),
		FeedbackCounts: p.FeedbackCounts.Clone(),
		UpdatedAt:      p.UpdatedAt,
	}
}

// PreferenceSelections are the user-facing preference labels picked during onboarding.
type PreferenceSelections struct {
	Hobbies              []string `json:"hobbies"`
	FoodPreferences      []string `json:"foodPreferences"`
	ThematicPreferences  []string `json:"thematicPreferences"`
	LifestylePreferences []string `json:"lifestylePreferences"`
}

// Labels flattens all four selection lists in declaration order.
func (s PreferenceSelections) Labels() []string {
	out := make([]string, 0, len(s.Hobbies)+len(s.FoodPreferences)+len(s.ThematicPreferences)+len(s.LifestylePreferences))
	out = append(out, s.Hobbies...)
	out = append(out, s.FoodPreferences...)
	out = append(out, s.ThematicPreferences...)
	out = append(out, s.LifestylePreferences...)
	return out
}
