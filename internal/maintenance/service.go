// Package maintenance runs scheduled housekeeping over the score store.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for Config zero values.
const (
	DefaultInterval       = 24 * time.Hour
	DefaultScoreRetention = 30 * 24 * time.Hour
	DefaultInitialDelay   = 5 * time.Minute
	minInterval           = time.Minute
)

// ScorePruner removes generation-path score records.
type ScorePruner interface {
	PruneGeneratedScores(ctx context.Context, cutoff time.Time) (int64, error)
}

// Optimizer refreshes database statistics.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Config tunes the scheduler. Zero Interval and ScoreRetention select the
// defaults; a zero InitialDelay runs the first pass immediately.
type Config struct {
	Interval       time.Duration
	ScoreRetention time.Duration
	InitialDelay   time.Duration
	Enabled        bool
}

// Stats summarises past runs.
type Stats struct {
	LastRun         time.Time `json:"last_run"`
	Enabled         bool      `json:"enabled"`
	Running         bool      `json:"running"`
	LastDurationMS  int64     `json:"last_duration_ms"`
	Runs            int64     `json:"runs"`
	TotalPruned     int64     `json:"total_pruned"`
	TotalOptimizes  int64     `json:"total_optimizes"`
	RetentionHours  float64   `json:"retention_hours"`
	IntervalSeconds float64   `json:"interval_seconds"`
}

// Service prunes stale generation-path scores and optimizes the database.
// Records carrying explicit feedback are never pruned; they guard rescoring.
type Service struct {
	log             zerolog.Logger
	lastRunTime     time.Time
	pruner          ScorePruner
	optimizer       Optimizer
	now             func() time.Time
	stopCh          chan struct{}
	doneCh          chan struct{}
	cfg             Config
	lastRunDuration time.Duration
	runs            int64
	totalPruned     int64
	totalOptimizes  int64
	mu              sync.Mutex
	runMu           sync.Mutex
	running         bool
	started         bool
	stopped         bool
}

// NewService creates a maintenance service. optimizer may be nil.
func NewService(pruner ScorePruner, optimizer Optimizer, cfg Config, log zerolog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	cfg.Interval = max(cfg.Interval, minInterval)
	if cfg.ScoreRetention <= 0 {
		cfg.ScoreRetention = DefaultScoreRetention
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	return &Service{
		pruner:    pruner,
		optimizer: optimizer,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With().Str("component", "maintenance").Logger(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the maintenance loop until ctx is cancelled or Stop is called.
// This should be called in a goroutine.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	// doneCh closes once, so the scheduler runs at most once
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if !s.cfg.Enabled {
		s.log.Info().Msg("Maintenance disabled, not starting scheduler")
		return
	}

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("score_retention", s.cfg.ScoreRetention).
		Msg("Starting maintenance scheduler")

	// Let the system stabilize before the first run
	if !s.wait(ctx, s.cfg.InitialDelay) {
		return
	}
	s.Run(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			s.Run(ctx)
		}
	}
}

// wait sleeps for d, returning false if the service should exit instead.
func (s *Service) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Stop signals the loop to exit and waits for it if it was started.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	running := s.running
	close(s.stopCh)
	s.mu.Unlock()

	if running {
		<-s.doneCh
	}
}

// Run executes every maintenance task once. Concurrent calls are serialized.
func (s *Service) Run(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.now()
	s.log.Debug().Msg("Starting maintenance run")

	cutoff := start.Add(-s.cfg.ScoreRetention).UTC()
	pruned, err := s.pruner.PruneGeneratedScores(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to prune generated scores")
	} else if pruned > 0 {
		s.log.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("Pruned stale generated scores")
	}

	optimized := false
	if s.optimizer != nil {
		if err := s.optimizer.Optimize(ctx); err != nil {
			s.log.Error().Err(err).Msg("Failed to optimize database")
		} else {
			optimized = true
		}
	}

	s.mu.Lock()
	s.runs++
	s.totalPruned += pruned
	if optimized {
		s.totalOptimizes++
	}
	s.lastRunTime = start
	s.lastRunDuration = time.Since(start)
	s.mu.Unlock()

	s.log.Info().
		Dur("duration", time.Since(start)).
		Int64("scores_pruned", pruned).
		Msg("Maintenance run completed")
}

// Stats returns maintenance statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Enabled:         s.cfg.Enabled,
		Running:         s.running,
		LastRun:         s.lastRunTime,
		LastDurationMS:  s.lastRunDuration.Milliseconds(),
		Runs:            s.runs,
		TotalPruned:     s.totalPruned,
		TotalOptimizes:  s.totalOptimizes,
		RetentionHours:  s.cfg.ScoreRetention.Hours(),
		IntervalSeconds: s.cfg.Interval.Seconds(),
	}
}
