// Package promotion adds crowd-voted tags to venues once enough distinct users agree.
package promotion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/thebtf/venuescout/pkg/models"
)

const (
	// DefaultQuorum is the number of distinct voters needed to promote a tag.
	DefaultQuorum = 2

	lockStripes = 64
)

// Store is the persistence the promoter needs.
type Store interface {
	LoadVenueTags(ctx context.Context, venueID string) (models.TagSet, error)
	AddVoter(ctx context.Context, venueID, tag, voterID string) (added bool, voters int, err error)
	AddVenueTag(ctx context.Context, venueID, tag string) (bool, error)
}

// Result is the state of a venue after a vote.
type Result struct {
	VenueID string   `json:"venue_id"`
	Tag     string   `json:"tag"`
	Tags    []string `json:"tags"`
	Voters  int      `json:"voters"`
	// NewVote is false when the voter had already voted for this tag.
	NewVote bool `json:"new_vote"`
	// Promoted is true only for the vote that added the tag to the venue.
	Promoted bool `json:"promoted"`
}

// Promoter records positive votes and promotes tags at quorum.
// Votes for the same (venue, tag) are serialized in-process; the store's
// add-to-set and insert-if-absent primitives keep it correct across processes.
type Promoter struct {
	log    zerolog.Logger
	store  Store
	locks  [lockStripes]sync.Mutex
	quorum int
}

// NewPromoter creates a promoter. A quorum below 1 selects DefaultQuorum.
func NewPromoter(store Store, quorum int, log zerolog.Logger) *Promoter {
	if quorum < 1 {
		quorum = DefaultQuorum
	}
	return &Promoter{
		store:  store,
		quorum: quorum,
		log:    log.With().Str("component", "promotion").Logger(),
	}
}

// Quorum returns the configured voter threshold.
func (p *Promoter) Quorum() int {
	return p.quorum
}

// RecordPositiveVote adds voterID to the voters of (venueID, tag) and promotes
// tag onto the venue when the quorum is reached and the venue lacks it.
// Repeating a vote changes nothing.
func (p *Promoter) RecordPositiveVote(ctx context.Context, venueID, tag, voterID string) (*Result, error) {
	venueID = strings.TrimSpace(venueID)
	tag = strings.TrimSpace(tag)
	voterID = strings.TrimSpace(voterID)
	if venueID == "" || tag == "" || voterID == "" {
		return nil, fmt.Errorf("%w: venue, tag and voter are required", models.ErrInvalidInput)
	}

	mu := p.lockFor(venueID, tag)
	mu.Lock()
	defer mu.Unlock()

	tags, err := p.store.LoadVenueTags(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("load venue tags: %w", err)
	}

	added, voters, err := p.store.AddVoter(ctx, venueID, tag, voterID)
	if err != nil {
		return nil, fmt.Errorf("add voter: %w", err)
	}

	res := &Result{VenueID: venueID, Tag: tag, Voters: voters, NewVote: added}
	if voters >= p.quorum && !tags.Has(tag) {
		inserted, err := p.store.AddVenueTag(ctx, venueID, tag)
		if err != nil {
			return nil, fmt.Errorf("promote tag: %w", err)
		}
		if inserted {
			tags.Add(tag)
			res.Promoted = true
			p.log.Info().Str("venue", venueID).Str("tag", tag).Int("voters", voters).Msg("tag promoted")
		}
	}
	res.Tags = tags.Sorted()
	return res, nil
}

func (p *Promoter) lockFor(venueID, tag string) *sync.Mutex {
	h := xxh3.HashString(venueID + "\x00" + tag)
	return &p.locks[h%lockStripes]
}
