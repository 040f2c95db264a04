// Package affinity maintains per-user tag affinity weights under feedback.
package affinity

import (
	"math"
	"sort"
	"time"

	"github.com/thebtf/venuescout/pkg/models"
)

const (
	// DecayFactor is applied to every vocabulary weight on each feedback event.
	DecayFactor = 0.95
	// Step is the base adjustment for a relevant tag, damped by sqrt(count).
	Step = 0.2
	// PromotionThreshold is the weight a tag must exceed to be voted for.
	PromotionThreshold = 0.4
	// TopTagLimit caps how many tags one up-vote nominates.
	TopTagLimit = 3
)

// ApplyFeedback returns the profile that results from label being given to a
// venue carrying venueTags. The input profile is not modified.
//
// Every vocabulary tag decays by DecayFactor. Tags the venue carries are also
// nudged by +/-Step/sqrt(count) for up/down feedback and have their count
// incremented. Weights stay in [-1, 1]. Tags outside the vocabulary are left alone.
func ApplyFeedback(profile *models.AffinityProfile, venueTags models.TagSet, vocabulary []string, label models.FeedbackLabel) *models.AffinityProfile {
	next := profile.Clone()
	if next == nil {
		next = models.NewAffinityProfile("")
	}
	if next.Weights == nil {
		next.Weights = models.TagWeights{}
	}
	if next.FeedbackCounts == nil {
		next.FeedbackCounts = models.FeedbackCounts{}
	}

	sign := label.Sign()
	for _, tag := range vocabulary {
		relevant := venueTags.Has(tag)
		count := next.FeedbackCounts.Count(tag)

		adjustment := 0.0
		if relevant {
			adjustment = sign * Step / math.Sqrt(float64(count))
		}

		next.Weights.Set(tag, next.Weights.Get(tag)*DecayFactor+adjustment)
		if relevant {
			next.FeedbackCounts[tag] = count + 1
		}
	}
	next.UpdatedAt = time.Now().UTC()
	return next
}

// TopPositiveTags returns up to limit tags whose weight exceeds threshold,
// strongest first. Equal weights are ordered by tag name.
func TopPositiveTags(weights models.TagWeights, threshold float64, limit int) []string {
	if limit <= 0 {
		return nil
	}

	type entry struct {
		tag    string
		weight float64
	}
	entries := make([]entry, 0, len(weights))
	for tag, w := range weights {
		if w > threshold {
			entries = append(entries, entry{tag: tag, weight: w})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].weight != entries[j].weight {
			return entries[i].weight > entries[j].weight
		}
		return entries[i].tag < entries[j].tag
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.tag
	}
	return out
}
