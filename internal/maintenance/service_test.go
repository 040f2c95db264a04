package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/venuescout/internal/db/memory"
	"github.com/thebtf/venuescout/pkg/models"
)

type countingOptimizer struct {
	calls atomic.Int64
	err   error
}

func (o *countingOptimizer) Optimize(context.Context) error {
	o.calls.Add(1)
	return o.err
}

type failingPruner struct{}

func (failingPruner) PruneGeneratedScores(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestRun_PrunesOnlyStaleGeneratedScores(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, r := range []*models.ScoreRecord{
		{UserID: "u1", VenueID: "old", Feedback: models.FeedbackNone, UpdatedAt: now.Add(-40 * 24 * time.Hour)},
		{UserID: "u1", VenueID: "judged", Feedback: models.FeedbackDown, UpdatedAt: now.Add(-40 * 24 * time.Hour)},
		{UserID: "u1", VenueID: "recent", Feedback: models.FeedbackNone, UpdatedAt: now.Add(-time.Hour)},
	} {
		require.NoError(t, store.SaveScore(ctx, r))
	}

	opt := &countingOptimizer{}
	svc := NewService(store, opt, Config{Enabled: true}, zerolog.Nop())
	svc.now = func() time.Time { return now }

	svc.Run(ctx)

	list, err := store.ListScores(ctx, "u1", 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.VenueID)
	}
	assert.ElementsMatch(t, []string{"judged", "recent"}, ids)

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(1), stats.TotalPruned)
	assert.Equal(t, int64(1), stats.TotalOptimizes)
	assert.Equal(t, now, stats.LastRun)
	assert.Equal(t, int64(1), opt.calls.Load())
}

func TestRun_ToleratesFailures(t *testing.T) {
	opt := &countingOptimizer{err: errors.New("disk full")}
	svc := NewService(failingPruner{}, opt, Config{Enabled: true}, zerolog.Nop())

	assert.NotPanics(t, func() { svc.Run(context.Background()) })

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Zero(t, stats.TotalPruned)
	assert.Zero(t, stats.TotalOptimizes)
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(memory.NewStore(), nil, Config{Interval: time.Second}, zerolog.Nop())

	stats := svc.Stats()
	assert.Equal(t, minInterval.Seconds(), stats.IntervalSeconds)
	assert.Equal(t, DefaultScoreRetention.Hours(), stats.RetentionHours)
	assert.False(t, stats.Enabled)
}

func TestStart_DisabledReturnsImmediately(t *testing.T) {
	svc := NewService(memory.NewStore(), nil, Config{}, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		svc.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disabled scheduler did not return")
	}
	assert.Zero(t, svc.Stats().Runs)
}

func TestStart_RunsAndStops(t *testing.T) {
	opt := &countingOptimizer{}
	svc := NewService(memory.NewStore(), opt, Config{Enabled: true}, zerolog.Nop())

	go svc.Start(context.Background())

	require.Eventually(t, func() bool { return svc.Stats().Runs == 1 }, 2*time.Second, 10*time.Millisecond)

	svc.Stop()
	assert.False(t, svc.Stats().Running)
	assert.NotPanics(t, svc.Stop)
}

func TestStart_ContextCancelDuringDelay(t *testing.T) {
	svc := NewService(memory.NewStore(), nil, Config{Enabled: true, InitialDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler ignored cancellation")
	}
	assert.Zero(t, svc.Stats().Runs)
}
