package models

import "time"

// ScoreBreakdown holds the components blended into a priority score,
// each rounded to 3 digits.
type ScoreBreakdown struct {
	// Similarity is the cosine between the user and venue vectors, in [-1, 1].
	// It is negative when the user dislikes the venue's tags and is not clamped,
	// so a priority can fall below what proximity and rating alone would give.
	Similarity float64 `json:"similarity"`
	// Proximity is in [0, 1].
	Proximity float64 `json:"proximity"`
	// Rating is in [0, 1].
	Rating float64 `json:"rating"`
}

// ScoreRecord is the last computed score for a user and venue.
// Priority can be negative when the similarity is.
type ScoreRecord struct {
	UpdatedAt time.Time      `json:"updated_at"`
	UserID    string         `json:"user_id"`
	VenueID   string         `json:"venue_id"`
	Feedback  FeedbackLabel  `json:"feedback"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Priority  float64        `json:"priority"`
}

// HasExplicitFeedback reports whether the user judged this venue.
// Such records are only rewritten by the feedback path.
func (r *ScoreRecord) HasExplicitFeedback() bool {
	return r != nil && r.Feedback.Explicit()
}
