package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/venuescout/internal/db"
	"github.com/thebtf/venuescout/internal/db/memory"
	"github.com/thebtf/venuescout/internal/preferences"
	"github.com/thebtf/venuescout/internal/scoring"
	"github.com/thebtf/venuescout/internal/vocabulary"
	"github.com/thebtf/venuescout/pkg/models"
)

func ptr(v float64) *float64 { return &v }

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

const testMapping = `
thematic:
  Rooftop: [rooftop, scenicview, outdoorseating]
  Cozy: [cozy]
hobbies:
  Working Remotely: [wifi, quiet]
`

// ServiceSuite is a test suite for the engine Service.
type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.Store
	sink  *recordingSink
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.sink = &recordingSink{}

	mapping, err := preferences.ParseMapping([]byte(testMapping))
	s.Require().NoError(err)

	vocab := vocabulary.NewManager(s.store, vocabulary.Options{}, zerolog.Nop())
	s.svc, err = NewService(s.store, vocab, mapping, Config{}, Options{Events: s.sink}, zerolog.Nop())
	s.Require().NoError(err)
}

// withStore rebuilds the service over store, keeping the suite's sink.
func (s *ServiceSuite) withStore(store db.Store) *Service {
	mapping, err := preferences.ParseMapping([]byte(testMapping))
	s.Require().NoError(err)
	vocab := vocabulary.NewManager(store, vocabulary.Options{}, zerolog.Nop())
	svc, err := NewService(store, vocab, mapping, Config{}, Options{Events: s.sink}, zerolog.Nop())
	s.Require().NoError(err)
	return svc
}

// interleavingStore runs beforeGenerated once, just ahead of the first
// generated score write.
type interleavingStore struct {
	*memory.Store
	once            sync.Once
	beforeGenerated func()
}

func (i *interleavingStore) SaveGeneratedScore(ctx context.Context, record *models.ScoreRecord) (bool, error) {
	i.once.Do(i.beforeGenerated)
	return i.Store.SaveGeneratedScore(ctx, record)
}

// flakyVoterStore fails the first failures AddVoter calls.
type flakyVoterStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
}

var errStorageUnavailable = errors.New("storage unavailable")

func (f *flakyVoterStore) AddVoter(ctx context.Context, venueID, tag, voterID string) (bool, int, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return false, 0, errStorageUnavailable
	}
	f.mu.Unlock()
	return f.Store.AddVoter(ctx, venueID, tag, voterID)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) ingest(id string, features map[string]any, categories ...any) *IngestResult {
	res, err := s.svc.IngestVenue(s.ctx, VenueInput{ID: id, Features: features, Categories: categories})
	s.Require().NoError(err)
	return res
}

// =============================================================================
// GOOD SCENARIOS - Expected normal operations
// =============================================================================

func (s *ServiceSuite) TestIngestVenue_GoodScenarios_ExtractsAndGrowsVocabulary() {
	res := s.ingest("v1", map[string]any{"Wifi": true, "Noise_Level": "Great", "Parking": map[string]any{}}, "Coffee Shop")

	s.Equal([]string{"coffeeshop", "noiselevel", "parking", "wifi"}, res.Extracted)
	s.Equal(res.Extracted, res.NewVocabulary)
	s.ElementsMatch(res.Extracted, res.Venue.Tags)

	vocab, err := s.svc.Vocabulary(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"coffeeshop", "noiselevel", "parking", "wifi"}, vocab)
	s.Equal([]string{EventVocabularyGrown}, s.sink.types())

	// Re-ingest unions new tags and never drops old ones.
	res = s.ingest("v1", map[string]any{"Rooftop": true})
	s.ElementsMatch([]string{"coffeeshop", "noiselevel", "parking", "wifi", "rooftop"}, res.Venue.Tags)
	s.Equal([]string{"rooftop"}, res.NewVocabulary)

	vocab, err = s.svc.Vocabulary(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"coffeeshop", "noiselevel", "parking", "wifi", "rooftop"}, vocab)
}

func (s *ServiceSuite) TestSubmitPreferences_GoodScenarios_OverwritesWeightsKeepsCounts() {
	p, err := s.svc.SubmitPreferences(s.ctx, "u1", models.PreferenceSelections{
		Hobbies: []string{"Working Remotely"},
	})
	s.Require().NoError(err)
	s.Equal(models.TagWeights{"wifi": 0.7, "quiet": 0.7}, p.Weights)

	s.ingest("v1", map[string]any{"Wifi": true})
	_, err = s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "u1", VenueID: "v1", Label: "down"})
	s.Require().NoError(err)

	p, err = s.svc.SubmitPreferences(s.ctx, "u1", models.PreferenceSelections{
		ThematicPreferences: []string{"Cozy"},
	})
	s.Require().NoError(err)
	s.Equal(models.TagWeights{"cozy": 0.7}, p.Weights)
	s.Equal(2, p.FeedbackCounts["wifi"])

	stored, err := s.svc.Profile(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(p.Weights, stored.Weights)
}

func (s *ServiceSuite) TestHandleFeedback_GoodScenarios_DecayThenUpVote() {
	s.ingest("v1", nil, "Cozy")
	s.Require().NoError(s.store.SaveProfile(s.ctx, &models.AffinityProfile{
		UserID:         "u1",
		Weights:        models.TagWeights{"cozy": 0.5},
		FeedbackCounts: models.FeedbackCounts{"cozy": 1},
	}))

	out, err := s.svc.HandleFeedback(s.ctx, FeedbackInput{
		UserID:         "u1",
		VenueID:        "v1",
		Label:          "up",
		DistanceMeters: ptr(5000),
		Rating:         ptr(8),
	})
	s.Require().NoError(err)

	s.InDelta(0.675, out.Profile.Weights["cozy"], 1e-9)
	s.Equal(2, out.Profile.FeedbackCounts["cozy"])
	s.Equal(models.FeedbackUp, out.Score.Feedback)
	// Single-tag vocabulary: both vectors point the same way.
	s.Equal(1.0, out.Score.Breakdown.Similarity)
	s.Equal(0.5, out.Score.Breakdown.Proximity)
	s.Equal(0.86, out.Score.Priority)

	stored, err := s.store.LoadScore(s.ctx, "u1", "v1")
	s.Require().NoError(err)
	s.True(stored.HasExplicitFeedback())

	// 0.675 clears the promotion threshold, so the user voted for cozy.
	s.Require().Len(out.Votes, 1)
	s.Equal("cozy", out.Votes[0].Tag)
	s.Empty(out.Promotions, "cozy is already on the venue")
}

func (s *ServiceSuite) TestHandleFeedback_GoodScenarios_FreshUserSeedsZero() {
	s.ingest("v1", map[string]any{"Wifi": true})

	out, err := s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "new", VenueID: "v1", Label: "none"})
	s.Require().NoError(err)

	s.Equal(0.0, out.Profile.Weights["wifi"])
	s.Equal(2, out.Profile.FeedbackCounts["wifi"])
	s.Equal(models.FeedbackNone, out.Score.Feedback)
	s.Empty(out.Votes)
}

func (s *ServiceSuite) TestHandleFeedback_GoodScenarios_PromotionQuorum() {
	s.ingest("v1", map[string]any{"Wifi": true})
	for _, user := range []string{"alice", "bob", "carol"} {
		_, err := s.svc.SubmitPreferences(s.ctx, user, models.PreferenceSelections{
			ThematicPreferences: []string{"Rooftop"},
		})
		s.Require().NoError(err)
	}

	first, err := s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "alice", VenueID: "v1", Label: "up"})
	s.Require().NoError(err)
	s.Len(first.Votes, 3)
	s.Empty(first.Promotions)

	second, err := s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "bob", VenueID: "v1", Label: "up"})
	s.Require().NoError(err)
	s.Equal([]string{"outdoorseating", "rooftop", "scenicview"}, second.Promotions)

	venue, err := s.store.LoadVenue(s.ctx, "v1")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"wifi", "outdoorseating", "rooftop", "scenicview"}, venue.Tags)

	third, err := s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "carol", VenueID: "v1", Label: "up"})
	s.Require().NoError(err)
	s.Empty(third.Promotions, "already promoted tags are never promoted again")

	promoted := 0
	for _, t := range s.sink.types() {
		if t == EventTagPromoted {
			promoted++
		}
	}
	s.Equal(3, promoted)
}

func (s *ServiceSuite) TestHandleFeedback_GoodScenarios_DownVoteDoesNotVote() {
	s.ingest("v1", map[string]any{"Wifi": true})
	_, err := s.svc.SubmitPreferences(s.ctx, "u1", models.PreferenceSelections{ThematicPreferences: []string{"Rooftop"}})
	s.Require().NoError(err)

	out, err := s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "u1", VenueID: "v1", Label: "down"})
	s.Require().NoError(err)
	s.Empty(out.Votes)

	voters, err := s.store.LoadVoters(s.ctx, "v1", "rooftop")
	s.Require().NoError(err)
	s.Empty(voters)
}

func (s *ServiceSuite) TestScoreCandidates_GoodScenarios_SkipsJudgedVenues() {
	_, err := s.svc.SubmitPreferences(s.ctx, "u1", models.PreferenceSelections{Hobbies: []string{"Working Remotely"}})
	s.Require().NoError(err)

	s.ingest("judged", map[string]any{"Wifi": true})
	_, err = s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "u1", VenueID: "judged", Label: "down"})
	s.Require().NoError(err)
	before, err := s.store.LoadScore(s.ctx, "u1", "judged")
	s.Require().NoError(err)

	res, err := s.svc.ScoreCandidates(s.ctx, "u1", []VenueCandidate{
		{VenueID: "judged", DistanceMeters: ptr(0)},
		{VenueID: "match", Features: map[string]any{"Wifi": true}, DistanceMeters: ptr(20000), Rating: ptr(9)},
		{VenueID: "far", Features: map[string]any{"Live_Music": true}, DistanceMeters: ptr(40000)},
		{VenueID: "match", DistanceMeters: ptr(1)},
	})
	s.Require().NoError(err)

	s.Equal([]string{"judged"}, res.Skipped)
	s.Require().Len(res.Scored, 2)
	s.Equal("match", res.Scored[0].VenueID)
	s.Equal("far", res.Scored[1].VenueID)

	// match: cos over [wifi, livemusic] with weights {wifi: 0.7} is 1.
	s.Equal(1.0, res.Scored[0].Breakdown.Similarity)
	s.Equal(0.5, res.Scored[0].Breakdown.Proximity)
	s.Equal(0.9, res.Scored[0].Breakdown.Rating)
	s.Equal(0.88, res.Scored[0].Priority)

	s.Equal(0.0, res.Scored[1].Breakdown.Proximity)
	s.Equal(0.1, res.Scored[1].Priority)

	after, err := s.store.LoadScore(s.ctx, "u1", "judged")
	s.Require().NoError(err)
	s.Equal(before, after, "explicit feedback record is untouched")

	list, err := s.svc.Scores(s.ctx, "u1", 10)
	s.Require().NoError(err)
	s.Len(list, 3)
}

func (s *ServiceSuite) TestScoreCandidates_GoodScenarios_RescoresUnjudged() {
	s.ingest("v1", map[string]any{"Wifi": true})

	_, err := s.svc.ScoreCandidates(s.ctx, "u1", []VenueCandidate{{VenueID: "v1", DistanceMeters: ptr(40000)}})
	s.Require().NoError(err)
	res, err := s.svc.ScoreCandidates(s.ctx, "u1", []VenueCandidate{{VenueID: "v1", DistanceMeters: ptr(0)}})
	s.Require().NoError(err)

	s.Empty(res.Skipped)
	s.Require().Len(res.Scored, 1)
	s.Equal(1.0, res.Scored[0].Breakdown.Proximity)
}

func (s *ServiceSuite) TestScoreCandidates_GoodScenarios_FeedbackDuringScoringWins() {
	store := &interleavingStore{Store: s.store}
	svc := s.withStore(store)

	_, err := svc.IngestVenue(s.ctx, VenueInput{ID: "v1", Features: map[string]any{"Wifi": true}})
	s.Require().NoError(err)
	store.beforeGenerated = func() {
		_, ferr := svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "u1", VenueID: "v1", Label: "down"})
		s.NoError(ferr)
	}

	res, err := svc.ScoreCandidates(s.ctx, "u1", []VenueCandidate{{VenueID: "v1", DistanceMeters: ptr(0)}})
	s.Require().NoError(err)

	s.Equal([]string{"v1"}, res.Skipped)
	s.Empty(res.Scored)

	stored, err := s.store.LoadScore(s.ctx, "u1", "v1")
	s.Require().NoError(err)
	s.Equal(models.FeedbackDown, stored.Feedback, "judgement committed mid-batch survives")
}

func (s *ServiceSuite) TestNewService_ProximityHeavyBlend() {
	vocab := vocabulary.NewManager(s.store, vocabulary.Options{}, zerolog.Nop())
	svc, err := NewService(s.store, vocab, nil, Config{Blend: scoring.ProximityHeavyBlend, FeedbackRadius: 10000}, Options{}, zerolog.Nop())
	s.Require().NoError(err)
	s.ingest("v1", nil)

	out, err := svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "u1", VenueID: "v1", Label: "none", DistanceMeters: ptr(5000), Rating: ptr(8)})
	s.Require().NoError(err)
	s.Equal(0.36, out.Score.Priority)
}

// =============================================================================
// BAD SCENARIOS - Invalid input and missing data
// =============================================================================

func (s *ServiceSuite) TestHandleFeedback_BadScenarios_InvalidLabel() {
	s.ingest("v1", nil)

	_, err := s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "u1", VenueID: "v1", Label: "meh"})
	s.ErrorIs(err, models.ErrInvalidFeedback)

	p, err := s.store.LoadProfile(s.ctx, "u1")
	s.Require().NoError(err)
	s.Nil(p, "nothing is written for a rejected event")
}

func (s *ServiceSuite) TestHandleFeedback_BadScenarios_UnknownVenue() {
	_, err := s.svc.HandleFeedback(s.ctx, FeedbackInput{UserID: "u1", VenueID: "ghost", Label: "up"})
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *ServiceSuite) TestHandleFeedback_BadScenarios_VoteFailureLeavesProfile() {
	store := &flakyVoterStore{Store: s.store, failures: 1}
	svc := s.withStore(store)

	_, err := svc.IngestVenue(s.ctx, VenueInput{ID: "v1", Categories: []any{"Cozy"}})
	s.Require().NoError(err)
	s.Require().NoError(s.store.SaveProfile(s.ctx, &models.AffinityProfile{
		UserID:         "u1",
		Weights:        models.TagWeights{"cozy": 0.5},
		FeedbackCounts: models.FeedbackCounts{"cozy": 1},
	}))
	in := FeedbackInput{UserID: "u1", VenueID: "v1", Label: "up", DistanceMeters: ptr(5000), Rating: ptr(8)}

	_, err = svc.HandleFeedback(s.ctx, in)
	s.Require().Error(err)
	s.ErrorIs(err, errStorageUnavailable)

	profile, err := s.store.LoadProfile(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(0.5, profile.Weights["cozy"], "no decay committed")
	s.Equal(1, profile.FeedbackCounts["cozy"])
	score, err := s.store.LoadScore(s.ctx, "u1", "v1")
	s.Require().NoError(err)
	s.Nil(score)

	// The retry applies the event exactly once.
	out, err := svc.HandleFeedback(s.ctx, in)
	s.Require().NoError(err)
	s.InDelta(0.675, out.Profile.Weights["cozy"], 1e-9)
	s.Equal(2, out.Profile.FeedbackCounts["cozy"])
	s.Require().Len(out.Votes, 1)
	s.True(out.Votes[0].NewVote)

	stored, err := s.store.LoadProfile(s.ctx, "u1")
	s.Require().NoError(err)
	s.InDelta(0.675, stored.Weights["cozy"], 1e-9)
}

func (s *ServiceSuite) TestBadScenarios_MissingIdentifiers() {
	_, err := s.svc.SubmitPreferences(s.ctx, " ", models.PreferenceSelections{})
	s.ErrorIs(err, models.ErrInvalidInput)

	_, err = s.svc.IngestVenue(s.ctx, VenueInput{})
	s.ErrorIs(err, models.ErrInvalidInput)

	_, err = s.svc.HandleFeedback(s.ctx, FeedbackInput{VenueID: "v1", Label: "up"})
	s.ErrorIs(err, models.ErrInvalidInput)

	_, err = s.svc.ScoreCandidates(s.ctx, "u1", []VenueCandidate{{VenueID: ""}})
	s.ErrorIs(err, models.ErrInvalidInput)

	_, err = s.svc.Profile(s.ctx, "nobody")
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *ServiceSuite) TestNewService_RejectsNegativeBlend() {
	vocab := vocabulary.NewManager(s.store, vocabulary.Options{}, zerolog.Nop())
	_, err := NewService(s.store, vocab, nil, Config{Blend: scoring.Blend{Similarity: -1}}, Options{}, zerolog.Nop())
	s.ErrorIs(err, models.ErrInvalidInput)
}
