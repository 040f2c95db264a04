package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations brings the schema up to date using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: vocabulary and affinity profiles
		{
			ID: "001_vocabulary_profiles",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&VocabularyRow{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ProfileRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("vocabulary", "affinity_profiles")
			},
		},

		// Migration 002: venues, their tags and promotion votes
		{
			ID: "002_venues",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&VenueRow{}, &VenueTagRow{}, &VenueTagVoteRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("venue_tag_votes", "venue_tags", "venues")
			},
		},

		// Migration 003: score records
		{
			ID: "003_score_records",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&ScoreRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("score_records")
			},
		},
	})

	return m.Migrate()
}
