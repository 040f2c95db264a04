// Package scoring blends tag similarity, proximity and rating into a venue priority.
package scoring

import (
	"fmt"
	"math"

	"github.com/thebtf/venuescout/pkg/models"
	"github.com/thebtf/venuescout/pkg/similarity"
)

const (
	// FeedbackRadius normalizes distance when rescoring after explicit feedback, in meters.
	FeedbackRadius = 10000.0
	// GenerationRadius normalizes distance when scoring a fresh candidate batch, in meters.
	GenerationRadius = 40000.0
	// DefaultRating stands in for a venue with no rating, on the [0, 1] scale.
	DefaultRating = 0.5
	// RatingScale converts a 0-10 venue rating to [0, 1].
	RatingScale = 10.0
)

// Blend weights the three score components. The weights should sum to 1.
type Blend struct {
	Similarity float64 `json:"similarity"`
	Proximity  float64 `json:"proximity"`
	Rating     float64 `json:"rating"`
}

// DefaultBlend favours taste over distance.
var DefaultBlend = Blend{Similarity: 0.6, Proximity: 0.2, Rating: 0.2}

// ProximityHeavyBlend weighs distance as much as taste.
var ProximityHeavyBlend = Blend{Similarity: 0.4, Proximity: 0.4, Rating: 0.2}

// Validate rejects negative or all-zero weights.
func (b Blend) Validate() error {
	if b.Similarity < 0 || b.Proximity < 0 || b.Rating < 0 {
		return fmt.Errorf("%w: blend weights must be non-negative", models.ErrInvalidInput)
	}
	if b.Similarity+b.Proximity+b.Rating == 0 {
		return fmt.Errorf("%w: blend weights are all zero", models.ErrInvalidInput)
	}
	return nil
}

// Result is a priority with the components it was computed from.
// Breakdown.Similarity ranges over [-1, 1]; the other components over [0, 1].
type Result struct {
	Breakdown models.ScoreBreakdown `json:"breakdown"`
	Priority  float64               `json:"priority"`
}

// Scorer computes venue priorities. It holds no mutable state.
type Scorer struct {
	blend Blend
}

// NewScorer creates a scorer with the given blend.
// An invalid blend falls back to DefaultBlend.
func NewScorer(blend Blend) *Scorer {
	if blend.Validate() != nil {
		blend = DefaultBlend
	}
	return &Scorer{blend: blend}
}

// Blend returns the scorer's component weights.
func (s *Scorer) Blend() Blend {
	return s.blend
}

// Score ranks a venue for a user.
//
//	priority = similarity*w.Similarity + proximity*w.Proximity + rating*w.Rating
//
// Where:
//   - similarity = cosine(user vector, venue vector), both built over vocabulary
//   - proximity = max(0, 1 - distance/maxDistance); a missing distance counts as maxDistance
//   - rating = rating/10, or DefaultRating when unrated
//
// Every component and the priority are rounded to three decimals.
func (s *Scorer) Score(weights models.TagWeights, venueTags models.TagSet, vocabulary []string, distance, rating *float64, maxDistance float64) Result {
	sim := similarity.CosineSimilarity(
		similarity.UserVector(weights, vocabulary),
		similarity.VenueVector(venueTags, vocabulary),
	)
	prox := Proximity(distance, maxDistance)
	rate := NormalizeRating(rating)

	breakdown := models.ScoreBreakdown{
		Similarity: round3(sim),
		Proximity:  round3(prox),
		Rating:     round3(rate),
	}
	priority := sim*s.blend.Similarity + prox*s.blend.Proximity + rate*s.blend.Rating

	return Result{
		Breakdown: breakdown,
		Priority:  round3(priority),
	}
}

// Proximity maps a distance onto [0, 1], 1 being on the spot.
func Proximity(distance *float64, maxDistance float64) float64 {
	if maxDistance <= 0 {
		return 0
	}
	d := maxDistance
	if distance != nil && !math.IsNaN(*distance) {
		d = math.Max(0, *distance)
	}
	return math.Max(0, 1-d/maxDistance)
}

// NormalizeRating maps a 0-10 rating onto [0, 1].
func NormalizeRating(rating *float64) float64 {
	if rating == nil || math.IsNaN(*rating) {
		return DefaultRating
	}
	return math.Max(0, math.Min(1, *rating/RatingScale))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
