package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/venuescout/pkg/models"
)

// VenueStore persists venues and their tag sets.
type VenueStore struct {
	store *Store
	db    *gorm.DB
}

// NewVenueStore creates a venue store.
func NewVenueStore(store *Store) *VenueStore {
	return &VenueStore{store: store, db: store.DB}
}

// LoadVenue returns models.ErrNotFound for an unknown venue.
func (s *VenueStore) LoadVenue(ctx context.Context, venueID string) (*models.Venue, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "load_venue")
	defer cancel()

	return loadVenue(s.db.WithContext(ctx), venueID)
}

// LoadVenueTags returns models.ErrNotFound for an unknown venue.
func (s *VenueStore) LoadVenueTags(ctx context.Context, venueID string) (models.TagSet, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "load_venue_tags")
	defer cancel()

	db := s.db.WithContext(ctx)
	if err := requireVenue(db, venueID); err != nil {
		return nil, err
	}
	tags, err := venueTags(db, venueID)
	if err != nil {
		return nil, err
	}
	return models.NewTagSet(tags...), nil
}

// SaveVenue upserts the venue row and unions venue.Tags into its tag set.
// An empty name or nil rating leaves the stored value unchanged.
func (s *VenueStore) SaveVenue(ctx context.Context, venue *models.Venue) (*models.Venue, error) {
	if venue == nil || venue.ID == "" {
		return nil, fmt.Errorf("%w: venue requires an id", models.ErrInvalidInput)
	}

	var saved *models.Venue
	err := s.store.TransactionWithTimeout(ctx, DefaultQueryTimeout, "save_venue", func(tx *gorm.DB) error {
		now := time.Now().UTC()
		row := &VenueRow{ID: venue.ID, Name: venue.Name, CreatedAt: now, UpdatedAt: now}
		if venue.Rating != nil {
			row.Rating = sql.NullFloat64{Float64: *venue.Rating, Valid: true}
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
			return classifyError("insert venue", err)
		}

		updates := map[string]interface{}{"updated_at": now}
		if venue.Name != "" {
			updates["name"] = venue.Name
		}
		if venue.Rating != nil {
			updates["rating"] = *venue.Rating
		}
		if err := tx.Model(&VenueRow{}).Where("id = ?", venue.ID).Updates(updates).Error; err != nil {
			return classifyError("update venue", err)
		}

		if tags := tagRows(venue.ID, venue.Tags, now); len(tags) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tags).Error; err != nil {
				return classifyError("insert venue tags", err)
			}
		}

		var err error
		saved, err = loadVenue(tx, venue.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// AddVenueTag inserts tag unless the venue already carries it.
func (s *VenueStore) AddVenueTag(ctx context.Context, venueID, tag string) (bool, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "add_venue_tag")
	defer cancel()

	db := s.db.WithContext(ctx)
	if err := requireVenue(db, venueID); err != nil {
		return false, err
	}

	result := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&VenueTagRow{VenueID: venueID, Tag: tag, CreatedAt: time.Now().UTC()})
	if result.Error != nil {
		return false, classifyError("add venue tag", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func loadVenue(db *gorm.DB, venueID string) (*models.Venue, error) {
	var row VenueRow
	if err := db.Where("id = ?", venueID).First(&row).Error; err != nil {
		return nil, classifyError(fmt.Sprintf("venue %s", venueID), err)
	}
	tags, err := venueTags(db, venueID)
	if err != nil {
		return nil, err
	}

	v := &models.Venue{ID: row.ID, Name: row.Name, Tags: tags, UpdatedAt: row.UpdatedAt}
	if row.Rating.Valid {
		rating := row.Rating.Float64
		v.Rating = &rating
	}
	return v, nil
}

func requireVenue(db *gorm.DB, venueID string) error {
	var count int64
	if err := db.Model(&VenueRow{}).Where("id = ?", venueID).Count(&count).Error; err != nil {
		return classifyError("check venue", err)
	}
	if count == 0 {
		return fmt.Errorf("venue %s: %w", venueID, models.ErrNotFound)
	}
	return nil
}

func venueTags(db *gorm.DB, venueID string) ([]string, error) {
	tags := make([]string, 0)
	err := db.Model(&VenueTagRow{}).
		Where("venue_id = ?", venueID).
		Order("created_at, tag").
		Pluck("tag", &tags).Error
	if err != nil {
		return nil, classifyError("load venue tags", err)
	}
	return tags, nil
}

func tagRows(venueID string, tags []string, now time.Time) []VenueTagRow {
	seen := models.NewTagSet()
	rows := make([]VenueTagRow, 0, len(tags))
	for _, tag := range tags {
		if !seen.Add(tag) {
			continue
		}
		rows = append(rows, VenueTagRow{VenueID: venueID, Tag: tag, CreatedAt: now})
	}
	return rows
}
