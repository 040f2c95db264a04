package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/venuescout/pkg/models"
)

// VocabularyStore persists the tag vocabulary with optimistic versioning.
type VocabularyStore struct {
	store *Store
	db    *gorm.DB
}

// NewVocabularyStore creates a vocabulary store.
func NewVocabularyStore(store *Store) *VocabularyStore {
	return &VocabularyStore{store: store, db: store.DB}
}

// LoadVocabulary returns the vocabulary, inserting the empty row on first use.
func (s *VocabularyStore) LoadVocabulary(ctx context.Context) (*models.Vocabulary, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "load_vocabulary")
	defer cancel()

	if err := ensureVocabularyRow(s.db.WithContext(ctx)); err != nil {
		return nil, classifyError("create vocabulary", err)
	}

	var row VocabularyRow
	if err := s.db.WithContext(ctx).First(&row, vocabularyRowID).Error; err != nil {
		return nil, classifyError("load vocabulary", err)
	}
	return &models.Vocabulary{
		Tags:      append([]string{}, row.Tags...),
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// LoadVocabularyVersion reads only the version column. A missing row is version 0.
func (s *VocabularyStore) LoadVocabularyVersion(ctx context.Context) (int64, error) {
	ctx, cancel := s.store.WithTimeout(ctx, FastQueryTimeout, "load_vocabulary_version")
	defer cancel()

	var row VocabularyRow
	err := s.db.WithContext(ctx).Select("version").First(&row, vocabularyRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, classifyError("load vocabulary version", err)
	}
	return row.Version, nil
}

// SaveVocabulary replaces the tag list if the stored version equals expectedVersion.
//
// The version check and the bump happen in one conditional UPDATE, so two
// writers holding the same version cannot both succeed.
func (s *VocabularyStore) SaveVocabulary(ctx context.Context, tags []string, expectedVersion int64) (*models.Vocabulary, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "save_vocabulary")
	defer cancel()

	db := s.db.WithContext(ctx)
	if err := ensureVocabularyRow(db); err != nil {
		return nil, classifyError("create vocabulary", err)
	}

	now := time.Now().UTC()
	stored := models.JSONStringArray(append([]string{}, tags...))
	result := db.Model(&VocabularyRow{}).
		Where("id = ? AND version = ?", vocabularyRowID, expectedVersion).
		Updates(map[string]interface{}{
			"tags":       stored,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, classifyError("save vocabulary", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("save vocabulary at version %d: %w", expectedVersion, models.ErrLostUpdate)
	}

	return &models.Vocabulary{
		Tags:      []string(stored),
		Version:   expectedVersion + 1,
		UpdatedAt: now,
	}, nil
}

func ensureVocabularyRow(db *gorm.DB) error {
	row := &VocabularyRow{
		ID:        vocabularyRowID,
		Tags:      models.JSONStringArray{},
		UpdatedAt: time.Now().UTC(),
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}
