package worker

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/venuescout/internal/config"
	"github.com/thebtf/venuescout/internal/engine"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VENUESCOUT_DATA_DIR", dir)
	cfg := config.Default()
	cfg.DatabaseDSN = filepath.Join(dir, "venuescout.db")
	cfg.MaintenanceEnabled = false
	cfg.RecommendationRateLimit = 0
	return cfg
}

func TestBootstrap_SQLite(t *testing.T) {
	cfg := sqliteConfig(t)
	// Unreachable Redis degrades to process-local invalidation
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	components, err := Bootstrap(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, components.Close()) }()

	assert.Nil(t, components.Subscriber)
	require.NotNil(t, components.Maintenance)

	ctx := context.Background()
	res, err := components.Engine.IngestVenue(ctx, engine.VenueInput{
		ID:       "v1",
		Features: map[string]any{"Wifi": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"wifi"}, res.Extracted)

	vocab, err := components.Engine.Vocabulary(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wifi"}, vocab)

	assert.Equal(t, "healthy", components.Health.HealthCheck(ctx).Status)
}

func TestBootstrap_BadMappingPath(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.PreferenceMappingPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Bootstrap(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestBootstrap_InvalidBlend(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.BlendSimilarity, cfg.BlendProximity, cfg.BlendRating = 0, 0, 0

	components, err := Bootstrap(context.Background(), cfg, nil)
	// An all-zero blend selects the defaults
	require.NoError(t, err)
	require.NoError(t, components.Close())
}

func TestService_AsyncInitAndShutdown(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.WorkerPort = 0

	svc := NewService("test", cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, svc.WaitReady(ctx))

	rr := doRequest(svc.Handler(), http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Shutdown(ctx))

	rr = doRequest(svc.Handler(), http.MethodGet, "/api/vocabulary", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestService_AsyncInitFailure(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.DatabaseDriver = "oracle"

	svc := NewService("test", cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := svc.WaitReady(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
	require.NoError(t, svc.Shutdown(ctx))
}
