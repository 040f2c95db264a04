package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/venuescout/pkg/models"
)

// vocabularyRowID is the primary key of the single vocabulary row.
const vocabularyRowID = 1

// VocabularyRow holds the global tag vocabulary. There is exactly one row.
type VocabularyRow struct {
	UpdatedAt time.Time              `gorm:"not null"`
	Tags      models.JSONStringArray `gorm:"type:text;not null"`
	ID        int64                  `gorm:"primaryKey;autoIncrement:false"`
	Version   int64                  `gorm:"not null;default:0"`
}

func (VocabularyRow) TableName() string { return "vocabulary" }

// ProfileRow is a user's affinity profile.
type ProfileRow struct {
	UpdatedAt      time.Time           `gorm:"not null"`
	Weights        models.JSONFloatMap `gorm:"type:text;not null"`
	FeedbackCounts models.JSONIntMap   `gorm:"type:text;not null"`
	UserID         string              `gorm:"primaryKey"`
}

func (ProfileRow) TableName() string { return "affinity_profiles" }

// BeforeSave keeps the timestamp current.
func (p *ProfileRow) BeforeSave(tx *gorm.DB) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// VenueRow is a recommendable venue.
type VenueRow struct {
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null;default:''"`
	Rating    sql.NullFloat64
}

func (VenueRow) TableName() string { return "venues" }

// VenueTagRow attaches one tag to a venue. The composite key makes inserts idempotent.
type VenueTagRow struct {
	CreatedAt time.Time `gorm:"not null;index:idx_venue_tags_order,priority:2"`
	VenueID   string    `gorm:"primaryKey;index:idx_venue_tags_order,priority:1"`
	Tag       string    `gorm:"primaryKey"`
}

func (VenueTagRow) TableName() string { return "venue_tags" }

// VenueTagVoteRow is one user's vote for adding a tag to a venue.
type VenueTagVoteRow struct {
	CreatedAt time.Time `gorm:"not null"`
	VenueID   string    `gorm:"primaryKey"`
	Tag       string    `gorm:"primaryKey"`
	VoterID   string    `gorm:"primaryKey"`
}

func (VenueTagVoteRow) TableName() string { return "venue_tag_votes" }

// ScoreRow is the latest score of a venue for a user.
// Field order optimized for memory alignment (fieldalignment).
type ScoreRow struct {
	UpdatedAt  time.Time            `gorm:"not null"`
	UserID     string               `gorm:"primaryKey;index:idx_scores_user_priority,priority:1"`
	VenueID    string               `gorm:"primaryKey"`
	Feedback   models.FeedbackLabel `gorm:"type:text;not null;default:'none';check:feedback IN ('up', 'down', 'none')"`
	Priority   float64              `gorm:"not null;index:idx_scores_user_priority,priority:2,sort:desc"`
	Similarity float64              `gorm:"not null"`
	Proximity  float64              `gorm:"not null"`
	Rating     float64              `gorm:"not null"`
}

func (ScoreRow) TableName() string { return "score_records" }

func profileToRow(p *models.AffinityProfile) *ProfileRow {
	row := &ProfileRow{
		UserID:         p.UserID,
		Weights:        models.JSONFloatMap(p.Weights.Clone()),
		FeedbackCounts: models.JSONIntMap(p.FeedbackCounts.Clone()),
		UpdatedAt:      p.UpdatedAt,
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	return row
}

func (p *ProfileRow) toModel() *models.AffinityProfile {
	profile := models.NewAffinityProfile(p.UserID)
	for tag, w := range p.Weights {
		profile.Weights.Set(tag, w)
	}
	for tag, n := range p.FeedbackCounts {
		profile.FeedbackCounts[tag] = n
	}
	profile.UpdatedAt = p.UpdatedAt
	return profile
}

func scoreToRow(r *models.ScoreRecord) *ScoreRow {
	row := &ScoreRow{
		UserID:     r.UserID,
		VenueID:    r.VenueID,
		Feedback:   r.Feedback,
		Priority:   r.Priority,
		Similarity: r.Breakdown.Similarity,
		Proximity:  r.Breakdown.Proximity,
		Rating:     r.Breakdown.Rating,
		UpdatedAt:  r.UpdatedAt,
	}
	if row.Feedback == "" {
		row.Feedback = models.FeedbackNone
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	return row
}

func (s *ScoreRow) toModel() *models.ScoreRecord {
	return &models.ScoreRecord{
		UserID:   s.UserID,
		VenueID:  s.VenueID,
		Feedback: s.Feedback,
		Priority: s.Priority,
		Breakdown: models.ScoreBreakdown{
			Similarity: s.Similarity,
			Proximity:  s.Proximity,
			Rating:     s.Rating,
		},
		UpdatedAt: s.UpdatedAt,
	}
}
