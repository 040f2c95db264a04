package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VoteStore persists tag promotion votes, one row per voter.
type VoteStore struct {
	store *Store
	db    *gorm.DB
}

// NewVoteStore creates a vote store.
func NewVoteStore(store *Store) *VoteStore {
	return &VoteStore{store: store, db: store.DB}
}

// LoadVoters returns the voters for (venueID, tag) in arrival order.
func (s *VoteStore) LoadVoters(ctx context.Context, venueID, tag string) ([]string, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "load_voters")
	defer cancel()

	voters := make([]string, 0)
	err := s.db.WithContext(ctx).
		Model(&VenueTagVoteRow{}).
		Where("venue_id = ? AND tag = ?", venueID, tag).
		Order("created_at, voter_id").
		Pluck("voter_id", &voters).Error
	if err != nil {
		return nil, classifyError("load voters", err)
	}
	return voters, nil
}

// AddVoter inserts the vote if new and returns the resulting voter count.
//
// Concurrent voters on one (venue, tag) are serialized so that each sees the
// votes committed before it and the last one counts everybody. On Postgres a
// transaction-scoped advisory lock does this across processes; READ COMMITTED
// alone would let two transactions each miss the other's uncommitted row.
// Hash collisions only serialize unrelated pairs.
// SQLite serializes writers through its database lock.
func (s *VoteStore) AddVoter(ctx context.Context, venueID, tag, voterID string) (bool, int, error) {
	var added bool
	var count int64
	err := s.store.TransactionWithTimeout(ctx, DefaultQueryTimeout, "add_voter", func(tx *gorm.DB) error {
		if s.store.Driver() == DriverPostgres {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?), hashtext(?))", venueID, tag).Error; err != nil {
				return classifyError("lock votes", err)
			}
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&VenueTagVoteRow{
			VenueID:   venueID,
			Tag:       tag,
			VoterID:   voterID,
			CreatedAt: time.Now().UTC(),
		})
		if result.Error != nil {
			return classifyError("add voter", result.Error)
		}
		added = result.RowsAffected == 1

		err := tx.Model(&VenueTagVoteRow{}).
			Where("venue_id = ? AND tag = ?", venueID, tag).
			Count(&count).Error
		return classifyError("count voters", err)
	})
	if err != nil {
		return false, 0, err
	}
	return added, int(count), nil
}
