// Package dbtest holds behaviour tests shared by every db.Store implementation.
package dbtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/venuescout/internal/db"
	"github.com/thebtf/venuescout/pkg/models"
)

// RunStoreContract exercises store against the db.Store contract.
// newStore must return an empty store; it is called once per subtest.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) db.Store) {
	t.Helper()

	t.Run("vocabulary lazy create", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		v, err := s.LoadVocabulary(ctx)
		require.NoError(t, err)
		assert.Empty(t, v.Tags)
		assert.Equal(t, int64(0), v.Version)

		version, err := s.LoadVocabularyVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), version)
	})

	t.Run("vocabulary compare and swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		v, err := s.SaveVocabulary(ctx, []string{"wifi", "cozy"}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v.Version)
		assert.Equal(t, []string{"wifi", "cozy"}, v.Tags)

		_, err = s.SaveVocabulary(ctx, []string{"wifi"}, 0)
		require.ErrorIs(t, err, models.ErrLostUpdate)

		loaded, err := s.LoadVocabulary(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"wifi", "cozy"}, loaded.Tags, "order is preserved")
		assert.Equal(t, int64(1), loaded.Version)

		v, err = s.SaveVocabulary(ctx, []string{"wifi", "cozy", "bar"}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v.Version)
	})

	t.Run("vocabulary concurrent writers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.LoadVocabulary(ctx)
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.SaveVocabulary(ctx, []string{fmt.Sprintf("t%d", i)}, 0)
				results <- err
			}(i)
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, models.ErrLostUpdate)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("profile round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		missing, err := s.LoadProfile(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, missing)

		p := models.NewAffinityProfile("u1")
		p.Weights.Set("cozy", 0.675)
		p.FeedbackCounts["cozy"] = 2
		require.NoError(t, s.SaveProfile(ctx, p))

		got, err := s.LoadProfile(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.InDelta(t, 0.675, got.Weights["cozy"], 1e-12)
		assert.Equal(t, 2, got.FeedbackCounts["cozy"])

		p.Weights.Set("cozy", -0.3)
		require.NoError(t, s.SaveProfile(ctx, p))
		got, err = s.LoadProfile(ctx, "u1")
		require.NoError(t, err)
		assert.InDelta(t, -0.3, got.Weights["cozy"], 1e-12)

		require.ErrorIs(t, s.SaveProfile(ctx, models.NewAffinityProfile("")), models.ErrInvalidInput)
	})

	t.Run("venue tags union", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.LoadVenue(ctx, "v1")
		require.ErrorIs(t, err, models.ErrNotFound)
		_, err = s.LoadVenueTags(ctx, "v1")
		require.ErrorIs(t, err, models.ErrNotFound)

		rating := 8.5
		saved, err := s.SaveVenue(ctx, &models.Venue{ID: "v1", Name: "Bean There", Rating: &rating, Tags: []string{"wifi", "cozy"}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"wifi", "cozy"}, saved.Tags)

		saved, err = s.SaveVenue(ctx, &models.Venue{ID: "v1", Tags: []string{"cozy", "parking"}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"wifi", "cozy", "parking"}, saved.Tags)
		assert.Equal(t, "Bean There", saved.Name, "empty name keeps the stored one")
		require.NotNil(t, saved.Rating)
		assert.InDelta(t, 8.5, *saved.Rating, 1e-12)

		tags, err := s.LoadVenueTags(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, []string{"cozy", "parking", "wifi"}, tags.Sorted())
	})

	t.Run("add venue tag insert if absent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.AddVenueTag(ctx, "v1", "rooftop")
		require.ErrorIs(t, err, models.ErrNotFound)

		_, err = s.SaveVenue(ctx, &models.Venue{ID: "v1", Tags: []string{"wifi"}})
		require.NoError(t, err)

		inserted, err := s.AddVenueTag(ctx, "v1", "rooftop")
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.AddVenueTag(ctx, "v1", "rooftop")
		require.NoError(t, err)
		assert.False(t, inserted)

		inserted, err = s.AddVenueTag(ctx, "v1", "wifi")
		require.NoError(t, err)
		assert.False(t, inserted)

		tags, err := s.LoadVenueTags(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, []string{"rooftop", "wifi"}, tags.Sorted())
	})

	t.Run("voters set semantics", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		voters, err := s.LoadVoters(ctx, "v1", "rooftop")
		require.NoError(t, err)
		assert.Empty(t, voters)

		added, n, err := s.AddVoter(ctx, "v1", "rooftop", "alice")
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, 1, n)

		added, n, err = s.AddVoter(ctx, "v1", "rooftop", "alice")
		require.NoError(t, err)
		assert.False(t, added)
		assert.Equal(t, 1, n)

		added, n, err = s.AddVoter(ctx, "v1", "rooftop", "bob")
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, 2, n)

		// Sets are keyed per (venue, tag).
		_, n, err = s.AddVoter(ctx, "v1", "cozy", "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		voters, err = s.LoadVoters(ctx, "v1", "rooftop")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alice", "bob"}, voters)
	})

	t.Run("scores", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		missing, err := s.LoadScore(ctx, "u1", "v1")
		require.NoError(t, err)
		assert.Nil(t, missing)

		for i, priority := range []float64{0.26, 0.9, 0.5} {
			require.NoError(t, s.SaveScore(ctx, &models.ScoreRecord{
				UserID:   "u1",
				VenueID:  fmt.Sprintf("v%d", i+1),
				Priority: priority,
				Feedback: models.FeedbackNone,
			}))
		}
		require.NoError(t, s.SaveScore(ctx, &models.ScoreRecord{UserID: "u2", VenueID: "v1", Priority: 1}))

		got, err := s.LoadScore(ctx, "u1", "v1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.InDelta(t, 0.26, got.Priority, 1e-12)
		assert.Equal(t, models.FeedbackNone, got.Feedback)

		list, err := s.ListScores(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "v2", list[0].VenueID)
		assert.Equal(t, "v3", list[1].VenueID)
		assert.Equal(t, "v1", list[2].VenueID)

		list, err = s.ListScores(ctx, "u1", 2)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		// Overwrite.
		require.NoError(t, s.SaveScore(ctx, &models.ScoreRecord{
			UserID:    "u1",
			VenueID:   "v1",
			Priority:  0.7,
			Feedback:  models.FeedbackUp,
			Breakdown: models.ScoreBreakdown{Similarity: 0.5, Proximity: 1, Rating: 0.8},
		}))
		got, err = s.LoadScore(ctx, "u1", "v1")
		require.NoError(t, err)
		assert.Equal(t, models.FeedbackUp, got.Feedback)
		assert.InDelta(t, 0.8, got.Breakdown.Rating, 1e-12)

		require.ErrorIs(t, s.SaveScore(ctx, &models.ScoreRecord{UserID: "u1"}), models.ErrInvalidInput)
	})

	t.Run("generated score keeps explicit feedback", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		generated := func(venueID string, priority float64) *models.ScoreRecord {
			return &models.ScoreRecord{UserID: "u1", VenueID: venueID, Priority: priority, Feedback: models.FeedbackNone}
		}

		written, err := s.SaveGeneratedScore(ctx, generated("v1", 0.3))
		require.NoError(t, err)
		assert.True(t, written, "insert")

		written, err = s.SaveGeneratedScore(ctx, generated("v1", 0.4))
		require.NoError(t, err)
		assert.True(t, written, "overwrite of a generated record")
		got, err := s.LoadScore(ctx, "u1", "v1")
		require.NoError(t, err)
		assert.InDelta(t, 0.4, got.Priority, 1e-12)

		for _, label := range []models.FeedbackLabel{models.FeedbackDown, models.FeedbackUp} {
			venueID := "judged-" + string(label)
			require.NoError(t, s.SaveScore(ctx, &models.ScoreRecord{
				UserID: "u1", VenueID: venueID, Priority: 0.9, Feedback: label,
			}))

			written, err = s.SaveGeneratedScore(ctx, generated(venueID, 0.1))
			require.NoError(t, err)
			assert.False(t, written, label)

			got, err = s.LoadScore(ctx, "u1", venueID)
			require.NoError(t, err)
			assert.Equal(t, label, got.Feedback)
			assert.InDelta(t, 0.9, got.Priority, 1e-12)
		}

		// A generated write never carries a label of its own
		written, err = s.SaveGeneratedScore(ctx, &models.ScoreRecord{UserID: "u1", VenueID: "v2", Feedback: models.FeedbackUp})
		require.NoError(t, err)
		assert.True(t, written)
		got, err = s.LoadScore(ctx, "u1", "v2")
		require.NoError(t, err)
		assert.Equal(t, models.FeedbackNone, got.Feedback)

		_, err = s.SaveGeneratedScore(ctx, &models.ScoreRecord{VenueID: "v1"})
		require.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("prune generated scores", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := time.Now().UTC().Add(-48 * time.Hour)

		records := []*models.ScoreRecord{
			{UserID: "u1", VenueID: "stale", Priority: 0.1, Feedback: models.FeedbackNone, UpdatedAt: old},
			{UserID: "u1", VenueID: "liked", Priority: 0.2, Feedback: models.FeedbackUp, UpdatedAt: old},
			{UserID: "u1", VenueID: "disliked", Priority: 0.3, Feedback: models.FeedbackDown, UpdatedAt: old},
			{UserID: "u1", VenueID: "fresh", Priority: 0.4, Feedback: models.FeedbackNone},
		}
		for _, r := range records {
			require.NoError(t, s.SaveScore(ctx, r))
		}

		pruned, err := s.PruneGeneratedScores(ctx, time.Now().UTC().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		list, err := s.ListScores(ctx, "u1", 0)
		require.NoError(t, err)
		ids := make([]string, len(list))
		for i, r := range list {
			ids[i] = r.VenueID
		}
		assert.Equal(t, []string{"fresh", "disliked", "liked"}, ids)

		pruned, err = s.PruneGeneratedScores(ctx, time.Now().UTC().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, pruned)
	})

	t.Run("feedback result atomic write", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p := models.NewAffinityProfile("u1")
		p.Weights.Set("cozy", 0.2)
		p.FeedbackCounts["cozy"] = 2
		rec := &models.ScoreRecord{UserID: "u1", VenueID: "v1", Priority: 0.3, Feedback: models.FeedbackUp}
		require.NoError(t, s.SaveFeedbackResult(ctx, p, rec))

		gotProfile, err := s.LoadProfile(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, gotProfile)
		assert.Equal(t, 2, gotProfile.FeedbackCounts["cozy"])

		gotScore, err := s.LoadScore(ctx, "u1", "v1")
		require.NoError(t, err)
		require.NotNil(t, gotScore)
		assert.True(t, gotScore.HasExplicitFeedback())

		err = s.SaveFeedbackResult(ctx, models.NewAffinityProfile("u2"), &models.ScoreRecord{UserID: "u2"})
		require.ErrorIs(t, err, models.ErrInvalidInput)
		none, err := s.LoadProfile(ctx, "u2")
		require.NoError(t, err)
		assert.Nil(t, none, "nothing is written when the record is invalid")
	})
}
