package engine

import (
	"github.com/thebtf/venuescout/internal/promotion"
	"github.com/thebtf/venuescout/pkg/models"
)

// VenueInput is raw venue metadata to ingest.
type VenueInput struct {
	Features   map[string]any `json:"features,omitempty"`
	Rating     *float64       `json:"rating,omitempty"`
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Categories []any          `json:"categories,omitempty"`
}

// IngestResult is the stored venue and the tags that were new to the vocabulary.
type IngestResult struct {
	Venue         *models.Venue `json:"venue"`
	Extracted     []string      `json:"extracted"`
	NewVocabulary []string      `json:"new_vocabulary"`
}

// FeedbackInput is one explicit judgement of a venue.
type FeedbackInput struct {
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
	// Rating overrides the stored venue rating when set.
	Rating  *float64 `json:"rating,omitempty"`
	UserID  string   `json:"user_id"`
	VenueID string   `json:"venue_id"`
	Label   string   `json:"feedback"`
}

// FeedbackOutcome is the state after a feedback event was applied.
type FeedbackOutcome struct {
	Profile    *models.AffinityProfile `json:"profile"`
	Score      *models.ScoreRecord     `json:"score"`
	Votes      []*promotion.Result     `json:"votes"`
	Promotions []string                `json:"promotions"`
}

// VenueCandidate is a venue proposed for recommendation.
// Features and Categories are ingested before scoring when present.
type VenueCandidate struct {
	Features       map[string]any `json:"features,omitempty"`
	DistanceMeters *float64       `json:"distance_meters,omitempty"`
	Rating         *float64       `json:"rating,omitempty"`
	VenueID        string         `json:"venue_id"`
	Name           string         `json:"name,omitempty"`
	Categories     []any          `json:"categories,omitempty"`
}

// GenerationResult lists freshly scored candidates, best first, and the
// venues left alone because the user already judged them.
type GenerationResult struct {
	Scored  []*models.ScoreRecord `json:"scored"`
	Skipped []string              `json:"skipped"`
}

// Event types published to an EventSink.
const (
	EventTagPromoted     = "tag_promoted"
	EventVocabularyGrown = "vocabulary_grown"
)

// Event is a notable state change.
type Event struct {
	Data any    `json:"data"`
	Type string `json:"type"`
}

// EventSink receives engine events. Publish must not block.
type EventSink interface {
	Publish(event Event)
}
