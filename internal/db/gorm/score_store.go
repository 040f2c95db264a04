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

// ScoreStore persists score records.
type ScoreStore struct {
	store *Store
	db    *gorm.DB
}

// NewScoreStore creates a score store.
func NewScoreStore(store *Store) *ScoreStore {
	return &ScoreStore{store: store, db: store.DB}
}

// LoadScore returns nil, nil when no record exists.
func (s *ScoreStore) LoadScore(ctx context.Context, userID, venueID string) (*models.ScoreRecord, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "load_score")
	defer cancel()

	var row ScoreRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND venue_id = ?", userID, venueID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("load score", err)
	}
	return row.toModel(), nil
}

// SaveScore inserts or overwrites the record for (UserID, VenueID).
func (s *ScoreStore) SaveScore(ctx context.Context, record *models.ScoreRecord) error {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "save_score")
	defer cancel()

	return saveScore(s.db.WithContext(ctx), record)
}

// SaveGeneratedScore upserts a generation-path record. The conflict update is
// guarded by the stored label so explicit feedback committed concurrently wins.
func (s *ScoreStore) SaveGeneratedScore(ctx context.Context, record *models.ScoreRecord) (bool, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "save_generated_score")
	defer cancel()

	if record == nil || record.UserID == "" || record.VenueID == "" {
		return false, fmt.Errorf("%w: score record requires user and venue ids", models.ErrInvalidInput)
	}
	row := scoreToRow(record)
	row.Feedback = models.FeedbackNone

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "venue_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"priority", "similarity", "proximity", "rating", "feedback", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "score_records.feedback = ?", Vars: []any{models.FeedbackNone}},
		}},
	}).Create(row)
	if result.Error != nil {
		return false, classifyError("save generated score", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListScores returns a user's records by descending priority.
func (s *ScoreStore) ListScores(ctx context.Context, userID string, limit int) ([]*models.ScoreRecord, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "list_scores")
	defer cancel()

	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("priority DESC, venue_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []ScoreRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, classifyError("list scores", err)
	}

	out := make([]*models.ScoreRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// PruneGeneratedScores deletes generation-path records older than cutoff.
func (s *ScoreStore) PruneGeneratedScores(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "prune_scores")
	defer cancel()

	result := s.db.WithContext(ctx).
		Where("feedback = ? AND updated_at < ?", models.FeedbackNone, cutoff).
		Delete(&ScoreRow{})
	if result.Error != nil {
		return 0, classifyError("prune scores", result.Error)
	}
	return result.RowsAffected, nil
}

func saveScore(db *gorm.DB, record *models.ScoreRecord) error {
	if record == nil || record.UserID == "" || record.VenueID == "" {
		return fmt.Errorf("%w: score record requires user and venue ids", models.ErrInvalidInput)
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "venue_id"}},
		UpdateAll: true,
	}).Create(scoreToRow(record)).Error
	return classifyError("save score", err)
}
