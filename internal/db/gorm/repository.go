package gorm

import (
	"github.com/thebtf/venuescout/internal/db"
)

var _ db.Store = (*Repository)(nil)

// Repository bundles every store over one connection and implements db.Store.
type Repository struct {
	*VocabularyStore
	*ProfileStore
	*VenueStore
	*VoteStore
	*ScoreStore
	*FeedbackStore
	store *Store
}

// NewRepository creates all stores over store.
func NewRepository(store *Store) *Repository {
	return &Repository{
		VocabularyStore: NewVocabularyStore(store),
		ProfileStore:    NewProfileStore(store),
		VenueStore:      NewVenueStore(store),
		VoteStore:       NewVoteStore(store),
		ScoreStore:      NewScoreStore(store),
		FeedbackStore:   NewFeedbackStore(store),
		store:           store,
	}
}

// Store returns the underlying connection.
func (r *Repository) Store() *Store {
	return r.store
}

// Close closes the underlying connection.
func (r *Repository) Close() error {
	return r.store.Close()
}
