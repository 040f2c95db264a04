// Package engine coordinates extraction, affinity learning, scoring and
// promotion over the repositories.
package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/venuescout/internal/affinity"
	"github.com/thebtf/venuescout/internal/db"
	"github.com/thebtf/venuescout/internal/preferences"
	"github.com/thebtf/venuescout/internal/promotion"
	"github.com/thebtf/venuescout/internal/scoring"
	"github.com/thebtf/venuescout/internal/tagging"
	"github.com/thebtf/venuescout/internal/vocabulary"
	"github.com/thebtf/venuescout/pkg/models"
)

// DefaultConcurrency bounds parallel scoring in the generation path.
const DefaultConcurrency = 8

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	Blend            scoring.Blend
	FeedbackRadius   float64
	GenerationRadius float64
	Quorum           int
	Concurrency      int
}

// Options carries optional collaborators.
type Options struct {
	Meter  metric.Meter
	Events EventSink
}

// Service is the caller boundary of the personalization engine.
type Service struct {
	log      zerolog.Logger
	store    db.Store
	events   EventSink
	vocab    *vocabulary.Manager
	mapping  *preferences.Mapping
	scorer   *scoring.Scorer
	promoter *promotion.Promoter
	metrics  *engineMetrics
	now      func() time.Time
	cfg      Config
}

// NewService wires the engine. A nil mapping selects the built-in preference table.
func NewService(store db.Store, vocab *vocabulary.Manager, mapping *preferences.Mapping, cfg Config, opts Options, log zerolog.Logger) (*Service, error) {
	if cfg.Blend == (scoring.Blend{}) {
		cfg.Blend = scoring.DefaultBlend
	}
	if err := cfg.Blend.Validate(); err != nil {
		return nil, err
	}
	if cfg.FeedbackRadius <= 0 {
		cfg.FeedbackRadius = scoring.FeedbackRadius
	}
	if cfg.GenerationRadius <= 0 {
		cfg.GenerationRadius = scoring.GenerationRadius
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if mapping == nil {
		mapping = preferences.DefaultMapping()
	}

	m, err := newEngineMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &Service{
		store:    store,
		vocab:    vocab,
		mapping:  mapping,
		scorer:   scoring.NewScorer(cfg.Blend),
		promoter: promotion.NewPromoter(store, cfg.Quorum, log),
		metrics:  m,
		events:   opts.Events,
		cfg:      cfg,
		now:      time.Now,
		log:      log.With().Str("component", "engine").Logger(),
	}, nil
}

// SubmitPreferences seeds the user's weights from onboarding selections.
// Existing weights are replaced; feedback counts are kept.
func (s *Service) SubmitPreferences(ctx context.Context, userID string, selections models.PreferenceSelections) (*models.AffinityProfile, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return nil, err
	}

	profile, err := s.store.LoadProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		profile = models.NewAffinityProfile(userID)
	}
	profile.Weights = s.mapping.BuildInitialWeights(selections)
	profile.UpdatedAt = s.now().UTC()

	if err := s.store.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	s.log.Debug().Str("user", userID).Int("tags", len(profile.Weights)).Msg("preferences submitted")
	return profile, nil
}

// IngestVenue extracts tags from venue metadata, grows the vocabulary with
// them and unions them into the venue's tag set.
func (s *Service) IngestVenue(ctx context.Context, in VenueInput) (*IngestResult, error) {
	venueID, err := requireID("venue id", in.ID)
	if err != nil {
		return nil, err
	}

	tags := tagging.ExtractTags(in.Features, in.Categories)
	grown, err := s.vocab.Add(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("grow vocabulary: %w", err)
	}
	if len(grown.Added) > 0 {
		s.metrics.vocabularyGrowth.Add(ctx, int64(len(grown.Added)))
		s.publish(EventVocabularyGrown, grown)
	}

	venue, err := s.store.SaveVenue(ctx, &models.Venue{
		ID:     venueID,
		Name:   strings.TrimSpace(in.Name),
		Rating: in.Rating,
		Tags:   tags,
	})
	if err != nil {
		return nil, fmt.Errorf("save venue: %w", err)
	}

	return &IngestResult{Venue: venue, Extracted: tags, NewVocabulary: grown.Added}, nil
}

// HandleFeedback applies an explicit judgement of a venue.
//
// The profile decays and adjusts against the venue's tags, the venue is
// rescored on the feedback radius, and both are saved atomically. An up-vote
// also votes the user's strongest tags onto the venue. When an error is
// returned the profile and score are unchanged, so the event can be retried.
func (s *Service) HandleFeedback(ctx context.Context, in FeedbackInput) (*FeedbackOutcome, error) {
	label, err := models.ParseFeedbackLabel(in.Label)
	if err != nil {
		return nil, err
	}
	userID, err := requireID("user id", in.UserID)
	if err != nil {
		return nil, err
	}
	venueID, err := requireID("venue id", in.VenueID)
	if err != nil {
		return nil, err
	}

	venue, err := s.store.LoadVenue(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("load venue: %w", err)
	}
	vocab, err := s.vocab.GetVocabulary(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := s.store.LoadProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		profile = models.NewAffinityProfile(userID)
	}

	venueTags := models.NewTagSet(venue.Tags...)
	next := affinity.ApplyFeedback(profile, venueTags, vocab, label)
	next.UserID = userID

	rating := in.Rating
	if rating == nil {
		rating = venue.Rating
	}
	result := s.scorer.Score(next.Weights, venueTags, vocab, in.DistanceMeters, rating, s.cfg.FeedbackRadius)
	record := &models.ScoreRecord{
		UserID:    userID,
		VenueID:   venueID,
		Priority:  result.Priority,
		Breakdown: result.Breakdown,
		Feedback:  label,
		UpdatedAt: s.now().UTC(),
	}

	outcome := &FeedbackOutcome{
		Profile:    next,
		Score:      record,
		Votes:      []*promotion.Result{},
		Promotions: []string{},
	}

	// Votes go first: they are idempotent, so a failure anywhere below leaves
	// nothing that a retry of the whole event would apply twice. The profile
	// and score are committed last, in one step.
	if label == models.FeedbackUp {
		if err := s.vote(ctx, venueID, userID, next.Weights, vocab, outcome); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveFeedbackResult(ctx, next, record); err != nil {
		return nil, fmt.Errorf("save feedback result: %w", err)
	}
	s.metrics.recordFeedback(ctx, label)
	return outcome, nil
}

// vote records the user's strongest tags against the venue and grows the
// vocabulary with any voted tag the venue carries but vocab lacks. That
// covers tags promoted now and tags promoted by an earlier attempt whose
// vocabulary write failed.
func (s *Service) vote(ctx context.Context, venueID, userID string, weights models.TagWeights, vocab []string, outcome *FeedbackOutcome) error {
	known := models.NewTagSet(vocab...)
	missing := []string{}
	for _, tag := range affinity.TopPositiveTags(weights, affinity.PromotionThreshold, affinity.TopTagLimit) {
		vote, err := s.promoter.RecordPositiveVote(ctx, venueID, tag, userID)
		if err != nil {
			return fmt.Errorf("record vote for %q: %w", tag, err)
		}
		outcome.Votes = append(outcome.Votes, vote)
		if vote.Promoted {
			outcome.Promotions = append(outcome.Promotions, tag)
			s.metrics.promotions.Add(ctx, 1)
			s.publish(EventTagPromoted, vote)
		}
		if !known.Has(tag) && slices.Contains(vote.Tags, tag) {
			missing = append(missing, tag)
		}
	}

	// A promoted tag may come from preferences alone; it needs a vector position.
	if len(missing) > 0 {
		grown, err := s.vocab.Add(ctx, missing)
		if err != nil {
			return fmt.Errorf("grow vocabulary: %w", err)
		}
		if len(grown.Added) > 0 {
			s.metrics.vocabularyGrowth.Add(ctx, int64(len(grown.Added)))
			s.publish(EventVocabularyGrown, grown)
		}
	}
	return nil
}

// ScoreCandidates scores a batch of candidate venues for a user on the
// generation radius. Candidates carrying metadata are ingested first.
// A candidate the user already judged keeps its feedback-path record and is
// reported in Skipped.
func (s *Service) ScoreCandidates(ctx context.Context, userID string, candidates []VenueCandidate) (*GenerationResult, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return nil, err
	}

	unique := make([]VenueCandidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		id, err := requireID("venue id", c.VenueID)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		c.VenueID = id
		unique = append(unique, c)
	}

	// Ingest sequentially so the vocabulary snapshot below covers every candidate.
	venues := make(map[string]*models.Venue, len(unique))
	for _, c := range unique {
		res, err := s.IngestVenue(ctx, VenueInput{
			ID:         c.VenueID,
			Name:       c.Name,
			Rating:     c.Rating,
			Features:   c.Features,
			Categories: c.Categories,
		})
		if err != nil {
			return nil, fmt.Errorf("ingest %s: %w", c.VenueID, err)
		}
		venues[c.VenueID] = res.Venue
	}

	vocab, err := s.vocab.GetVocabulary(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := s.store.LoadProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	weights := models.TagWeights{}
	if profile != nil {
		weights = profile.Weights
	}

	var mu sync.Mutex
	result := &GenerationResult{Scored: []*models.ScoreRecord{}, Skipped: []string{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, c := range unique {
		g.Go(func() error {
			venue := venues[c.VenueID]
			rating := c.Rating
			if rating == nil {
				rating = venue.Rating
			}
			scored := s.scorer.Score(weights, models.NewTagSet(venue.Tags...), vocab, c.DistanceMeters, rating, s.cfg.GenerationRadius)
			record := &models.ScoreRecord{
				UserID:    userID,
				VenueID:   c.VenueID,
				Priority:  scored.Priority,
				Breakdown: scored.Breakdown,
				Feedback:  models.FeedbackNone,
				UpdatedAt: s.now().UTC(),
			}
			// The store refuses the write when the user judged the venue,
			// including a judgement committed while this batch was scoring.
			written, err := s.store.SaveGeneratedScore(gctx, record)
			if err != nil {
				return fmt.Errorf("save score %s: %w", c.VenueID, err)
			}
			if !written {
				s.metrics.skipped.Add(gctx, 1)
				mu.Lock()
				result.Skipped = append(result.Skipped, c.VenueID)
				mu.Unlock()
				return nil
			}
			s.metrics.scored.Add(gctx, 1)

			mu.Lock()
			result.Scored = append(result.Scored, record)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(result.Scored, func(i, j int) bool {
		if result.Scored[i].Priority != result.Scored[j].Priority {
			return result.Scored[i].Priority > result.Scored[j].Priority
		}
		return result.Scored[i].VenueID < result.Scored[j].VenueID
	})
	sort.Strings(result.Skipped)

	s.log.Debug().
		Str("user", userID).
		Int("scored", len(result.Scored)).
		Int("skipped", len(result.Skipped)).
		Msg("candidates scored")
	return result, nil
}

// Vocabulary returns the current shared vocabulary.
func (s *Service) Vocabulary(ctx context.Context) ([]string, error) {
	return s.vocab.GetVocabulary(ctx)
}

// VocabularyStats reports vocabulary cache counters.
func (s *Service) VocabularyStats() vocabulary.Stats {
	return s.vocab.Stats()
}

// Scores lists a user's score records, best first.
func (s *Service) Scores(ctx context.Context, userID string, limit int) ([]*models.ScoreRecord, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListScores(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	return records, nil
}

// Profile returns the user's affinity profile, or models.ErrNotFound.
func (s *Service) Profile(ctx context.Context, userID string) (*models.AffinityProfile, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return nil, err
	}
	profile, err := s.store.LoadProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("profile %s: %w", userID, models.ErrNotFound)
	}
	return profile, nil
}

func (s *Service) publish(eventType string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(Event{Type: eventType, Data: data})
}

func requireID(name, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: %s is required", models.ErrInvalidInput, name)
	}
	return id, nil
}
