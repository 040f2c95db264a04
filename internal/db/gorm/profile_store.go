package gorm

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/venuescout/pkg/models"
)

// ProfileStore persists affinity profiles.
type ProfileStore struct {
	store *Store
	db    *gorm.DB
}

// NewProfileStore creates a profile store.
func NewProfileStore(store *Store) *ProfileStore {
	return &ProfileStore{store: store, db: store.DB}
}

// LoadProfile returns nil, nil for an unknown user.
func (s *ProfileStore) LoadProfile(ctx context.Context, userID string) (*models.AffinityProfile, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "load_profile")
	defer cancel()

	var row ProfileRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("load profile", err)
	}
	return row.toModel(), nil
}

// SaveProfile inserts or replaces the user's profile.
func (s *ProfileStore) SaveProfile(ctx context.Context, profile *models.AffinityProfile) error {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "save_profile")
	defer cancel()

	return saveProfile(s.db.WithContext(ctx), profile)
}

func saveProfile(db *gorm.DB, profile *models.AffinityProfile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("%w: profile requires a user id", models.ErrInvalidInput)
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"weights", "feedback_counts", "updated_at"}),
	}).Create(profileToRow(profile)).Error
	return classifyError("save profile", err)
}
