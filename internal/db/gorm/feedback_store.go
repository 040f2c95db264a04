package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/thebtf/venuescout/pkg/models"
)

// FeedbackStore writes feedback outcomes.
type FeedbackStore struct {
	store *Store
}

// NewFeedbackStore creates a feedback store.
func NewFeedbackStore(store *Store) *FeedbackStore {
	return &FeedbackStore{store: store}
}

// SaveFeedbackResult writes the profile and the score record in one transaction.
func (s *FeedbackStore) SaveFeedbackResult(ctx context.Context, profile *models.AffinityProfile, record *models.ScoreRecord) error {
	if record == nil || record.UserID == "" || record.VenueID == "" {
		return fmt.Errorf("%w: score record requires user and venue ids", models.ErrInvalidInput)
	}
	return s.store.TransactionWithTimeout(ctx, DefaultQueryTimeout, "save_feedback_result", func(tx *gorm.DB) error {
		if err := saveProfile(tx, profile); err != nil {
			return err
		}
		return saveScore(tx, record)
	})
}
