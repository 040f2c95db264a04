// Package memory implements db.Store with in-process maps.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thebtf/venuescout/internal/db"
	"github.com/thebtf/venuescout/pkg/models"
)

var _ db.Store = (*Store)(nil)

type voteKey struct {
	venueID string
	tag     string
}

type scoreKey struct {
	userID  string
	venueID string
}

type venueRow struct {
	updatedAt time.Time
	rating    *float64
	name      string
	tags      []string
}

// Store keeps all state in memory behind one lock.
// Values are copied on the way in and out.
type Store struct {
	profiles   map[string]*models.AffinityProfile
	venues     map[string]*venueRow
	votes      map[voteKey][]string
	scores     map[scoreKey]*models.ScoreRecord
	vocabulary *models.Vocabulary
	mu         sync.RWMutex
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[string]*models.AffinityProfile),
		venues:   make(map[string]*venueRow),
		votes:    make(map[voteKey][]string),
		scores:   make(map[scoreKey]*models.ScoreRecord),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// LoadVocabulary returns a copy of the vocabulary, creating it on first use.
func (s *Store) LoadVocabulary(_ context.Context) (*models.Vocabulary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vocabulary == nil {
		s.vocabulary = &models.Vocabulary{Tags: []string{}, UpdatedAt: time.Now().UTC()}
	}
	return copyVocabulary(s.vocabulary), nil
}

// LoadVocabularyVersion returns the current version, 0 before the first write.
func (s *Store) LoadVocabularyVersion(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vocabulary == nil {
		return 0, nil
	}
	return s.vocabulary.Version, nil
}

// SaveVocabulary replaces the tags when expectedVersion matches.
func (s *Store) SaveVocabulary(_ context.Context, tags []string, expectedVersion int64) (*models.Vocabulary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if s.vocabulary != nil {
		current = s.vocabulary.Version
	}
	if current != expectedVersion {
		return nil, fmt.Errorf("vocabulary version %d, expected %d: %w", current, expectedVersion, models.ErrLostUpdate)
	}

	s.vocabulary = &models.Vocabulary{
		Tags:      append([]string(nil), tags...),
		Version:   current + 1,
		UpdatedAt: time.Now().UTC(),
	}
	return copyVocabulary(s.vocabulary), nil
}

// LoadProfile returns nil, nil for an unknown user.
func (s *Store) LoadProfile(_ context.Context, userID string) (*models.AffinityProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.profiles[userID].Clone(), nil
}

// SaveProfile stores a copy of profile.
func (s *Store) SaveProfile(_ context.Context, profile *models.AffinityProfile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("%w: profile requires a user id", models.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.UserID] = profile.Clone()
	return nil
}

// LoadVenue returns models.ErrNotFound for an unknown venue.
func (s *Store) LoadVenue(_ context.Context, venueID string) (*models.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.venues[venueID]
	if !ok {
		return nil, fmt.Errorf("venue %s: %w", venueID, models.ErrNotFound)
	}
	return row.toVenue(venueID), nil
}

// LoadVenueTags returns models.ErrNotFound for an unknown venue.
func (s *Store) LoadVenueTags(_ context.Context, venueID string) (models.TagSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.venues[venueID]
	if !ok {
		return nil, fmt.Errorf("venue %s: %w", venueID, models.ErrNotFound)
	}
	return models.NewTagSet(row.tags...), nil
}

// SaveVenue upserts the venue and unions its tags into the stored set.
func (s *Store) SaveVenue(_ context.Context, venue *models.Venue) (*models.Venue, error) {
	if venue == nil || venue.ID == "" {
		return nil, fmt.Errorf("%w: venue requires an id", models.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.venues[venue.ID]
	if !ok {
		row = &venueRow{}
		s.venues[venue.ID] = row
	}
	if venue.Name != "" {
		row.name = venue.Name
	}
	if venue.Rating != nil {
		r := *venue.Rating
		row.rating = &r
	}
	existing := models.NewTagSet(row.tags...)
	for _, tag := range venue.Tags {
		if existing.Add(tag) {
			row.tags = append(row.tags, tag)
		}
	}
	row.updatedAt = time.Now().UTC()
	return row.toVenue(venue.ID), nil
}

// AddVenueTag appends tag unless the venue already carries it.
func (s *Store) AddVenueTag(_ context.Context, venueID, tag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.venues[venueID]
	if !ok {
		return false, fmt.Errorf("venue %s: %w", venueID, models.ErrNotFound)
	}
	for _, t := range row.tags {
		if t == tag {
			return false, nil
		}
	}
	row.tags = append(row.tags, tag)
	row.updatedAt = time.Now().UTC()
	return true, nil
}

// LoadVoters returns the voters for (venueID, tag) in arrival order.
func (s *Store) LoadVoters(_ context.Context, venueID, tag string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string{}, s.votes[voteKey{venueID, tag}]...), nil
}

// AddVoter adds voterID to the (venueID, tag) set.
func (s *Store) AddVoter(_ context.Context, venueID, tag, voterID string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := voteKey{venueID, tag}
	voters := s.votes[key]
	for _, v := range voters {
		if v == voterID {
			return false, len(voters), nil
		}
	}
	s.votes[key] = append(voters, voterID)
	return true, len(voters) + 1, nil
}

// LoadScore returns nil, nil when no record exists.
func (s *Store) LoadScore(_ context.Context, userID, venueID string) (*models.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.scores[scoreKey{userID, venueID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// SaveScore overwrites the record for (UserID, VenueID).
func (s *Store) SaveScore(_ context.Context, record *models.ScoreRecord) error {
	if err := validateScore(record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.putScore(record)
	return nil
}

// SaveGeneratedScore writes record unless the stored one carries explicit feedback.
func (s *Store) SaveGeneratedScore(_ context.Context, record *models.ScoreRecord) (bool, error) {
	if err := validateScore(record); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scores[scoreKey{record.UserID, record.VenueID}].HasExplicitFeedback() {
		return false, nil
	}
	cp := *record
	cp.Feedback = models.FeedbackNone
	s.putScore(&cp)
	return true, nil
}

// ListScores returns a user's records, highest priority first.
func (s *Store) ListScores(_ context.Context, userID string, limit int) ([]*models.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ScoreRecord, 0)
	for key, rec := range s.scores {
		if key.userID != userID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].VenueID < out[j].VenueID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneGeneratedScores deletes records without explicit feedback older than cutoff.
func (s *Store) PruneGeneratedScores(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for key, rec := range s.scores {
		if !rec.HasExplicitFeedback() && rec.UpdatedAt.Before(cutoff) {
			delete(s.scores, key)
			pruned++
		}
	}
	return pruned, nil
}

// SaveFeedbackResult stores the profile and the score record under one lock.
func (s *Store) SaveFeedbackResult(_ context.Context, profile *models.AffinityProfile, record *models.ScoreRecord) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("%w: profile requires a user id", models.ErrInvalidInput)
	}
	if err := validateScore(record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.UserID] = profile.Clone()
	s.putScore(record)
	return nil
}

func (s *Store) putScore(record *models.ScoreRecord) {
	cp := *record
	if cp.Feedback == "" {
		cp.Feedback = models.FeedbackNone
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.scores[scoreKey{cp.UserID, cp.VenueID}] = &cp
}

func validateScore(record *models.ScoreRecord) error {
	if record == nil || record.UserID == "" || record.VenueID == "" {
		return fmt.Errorf("%w: score record requires user and venue ids", models.ErrInvalidInput)
	}
	return nil
}

func (r *venueRow) toVenue(id string) *models.Venue {
	v := &models.Venue{
		ID:        id,
		Name:      r.name,
		Tags:      append([]string{}, r.tags...),
		UpdatedAt: r.updatedAt,
	}
	if r.rating != nil {
		rating := *r.rating
		v.Rating = &rating
	}
	return v
}

func copyVocabulary(v *models.Vocabulary) *models.Vocabulary {
	return &models.Vocabulary{
		Tags:      append([]string{}, v.Tags...),
		Version:   v.Version,
		UpdatedAt: v.UpdatedAt,
	}
}
