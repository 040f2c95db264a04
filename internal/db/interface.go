// Package db defines the persistence interfaces for venuescout stores.
package db

import (
	"context"
	"time"

	"github.com/thebtf/venuescout/pkg/models"
)

// VocabularyRepository persists the global tag vocabulary.
type VocabularyRepository interface {
	// LoadVocabulary returns the vocabulary, creating an empty one at version 0 if none exists.
	LoadVocabulary(ctx context.Context) (*models.Vocabulary, error)
	// LoadVocabularyVersion is a point read of the current version.
	LoadVocabularyVersion(ctx context.Context) (int64, error)
	// SaveVocabulary replaces the tag list if the stored version still equals
	// expectedVersion, bumping it by one. Otherwise it returns models.ErrLostUpdate.
	SaveVocabulary(ctx context.Context, tags []string, expectedVersion int64) (*models.Vocabulary, error)
}

// ProfileRepository persists per-user affinity profiles.
type ProfileRepository interface {
	// LoadProfile returns nil, nil when the user has no profile.
	LoadProfile(ctx context.Context, userID string) (*models.AffinityProfile, error)
	SaveProfile(ctx context.Context, profile *models.AffinityProfile) error
}

// VenueRepository persists venues and their tag sets.
type VenueRepository interface {
	// LoadVenue returns models.ErrNotFound for an unknown venue.
	LoadVenue(ctx context.Context, venueID string) (*models.Venue, error)
	// LoadVenueTags returns models.ErrNotFound for an unknown venue.
	LoadVenueTags(ctx context.Context, venueID string) (models.TagSet, error)
	// SaveVenue upserts name and rating and unions venue.Tags into the stored set.
	// It returns the venue as stored.
	SaveVenue(ctx context.Context, venue *models.Venue) (*models.Venue, error)
	// AddVenueTag inserts tag if absent and reports whether it was inserted.
	AddVenueTag(ctx context.Context, venueID, tag string) (bool, error)
}

// VoteRepository persists per (venue, tag) voter sets.
type VoteRepository interface {
	LoadVoters(ctx context.Context, venueID, tag string) ([]string, error)
	// AddVoter adds voterID to the set and returns whether it was new and the resulting set size.
	AddVoter(ctx context.Context, venueID, tag, voterID string) (added bool, voters int, err error)
}

// ScoreRepository persists per (user, venue) score records.
type ScoreRepository interface {
	// LoadScore returns nil, nil when no record exists.
	LoadScore(ctx context.Context, userID, venueID string) (*models.ScoreRecord, error)
	SaveScore(ctx context.Context, record *models.ScoreRecord) error
	// SaveGeneratedScore writes a record with no explicit feedback unless the
	// stored record for the pair carries an up or down label. The check and
	// the write are one atomic step. It reports whether the record was written.
	SaveGeneratedScore(ctx context.Context, record *models.ScoreRecord) (bool, error)
	// ListScores returns a user's records by descending priority. limit <= 0 means all.
	ListScores(ctx context.Context, userID string, limit int) ([]*models.ScoreRecord, error)
	// PruneGeneratedScores deletes records without explicit feedback last
	// written before cutoff and returns how many were removed.
	PruneGeneratedScores(ctx context.Context, cutoff time.Time) (int64, error)
}

// FeedbackRepository persists the outcome of a feedback event.
type FeedbackRepository interface {
	// SaveFeedbackResult writes the profile and score record atomically.
	SaveFeedbackResult(ctx context.Context, profile *models.AffinityProfile, record *models.ScoreRecord) error
}

// Store combines every repository.
type Store interface {
	VocabularyRepository
	ProfileRepository
	VenueRepository
	VoteRepository
	ScoreRepository
	FeedbackRepository
	Close() error
}
