// Package vocabulary maintains the shared, append-only tag vocabulary.
package vocabulary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/venuescout/internal/db"
	"github.com/thebtf/venuescout/pkg/models"
)

const (
	// DefaultMaxAddAttempts bounds the compare-and-swap retries of one AddTags call.
	DefaultMaxAddAttempts = 5
	// DefaultCacheMaxAge is how long a snapshot is served before its version is rechecked.
	DefaultCacheMaxAge = 30 * time.Second

	loadKey = "vocabulary"
)

// Notifier announces a vocabulary growth to other processes.
type Notifier interface {
	Publish(ctx context.Context, version int64) error
}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Notifier       Notifier
	CacheMaxAge    time.Duration
	MaxAddAttempts int
}

// Stats is a point-in-time view of cache behaviour.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
	Revalidations int64 `json:"revalidations"`
	Retries       int64 `json:"retries"`
	Version       int64 `json:"version"`
}

// AddResult describes the outcome of AddTags.
type AddResult struct {
	Tags    []string `json:"tags"`
	Added   []string `json:"added"`
	Version int64    `json:"version"`
}

// Manager serves vocabulary snapshots from a process-wide cache and grows
// the persisted vocabulary with optimistic concurrency.
type Manager struct {
	log         zerolog.Logger
	repo        db.VocabularyRepository
	notifier    Notifier
	now         func() time.Time
	snapshot    *models.Vocabulary
	loadedAt    time.Time
	group       singleflight.Group
	maxAge      time.Duration
	maxAttempts int
	gen         uint64
	// seen is the highest stored version loaded, written or announced.
	seen        int64
	mu          sync.RWMutex

	hits          int64
	misses        int64
	invalidations int64
	revalidations int64
	retries       int64
}

// NewManager creates a vocabulary manager over repo.
func NewManager(repo db.VocabularyRepository, opts Options, log zerolog.Logger) *Manager {
	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = DefaultCacheMaxAge
	}
	if opts.MaxAddAttempts <= 0 {
		opts.MaxAddAttempts = DefaultMaxAddAttempts
	}
	return &Manager{
		repo:        repo,
		notifier:    opts.Notifier,
		maxAge:      opts.CacheMaxAge,
		maxAttempts: opts.MaxAddAttempts,
		now:         time.Now,
		log:         log.With().Str("component", "vocabulary").Logger(),
	}
}

// GetVocabulary returns the current tag list in index order.
// The returned slice is owned by the caller.
func (m *Manager) GetVocabulary(ctx context.Context) ([]string, error) {
	v, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return v.Tags, nil
}

// Snapshot returns a copy of the cached vocabulary, loading it on a miss.
// A snapshot older than the cache max age is revalidated against the stored version.
func (m *Manager) Snapshot(ctx context.Context) (*models.Vocabulary, error) {
	m.mu.RLock()
	snap, loadedAt := m.snapshot, m.loadedAt
	m.mu.RUnlock()

	if snap != nil {
		if m.now().Sub(loadedAt) < m.maxAge {
			atomic.AddInt64(&m.hits, 1)
			return copyVocabulary(snap), nil
		}
		fresh, err := m.revalidate(ctx, snap)
		if err != nil {
			return nil, err
		}
		if fresh {
			atomic.AddInt64(&m.hits, 1)
			return copyVocabulary(snap), nil
		}
	}

	atomic.AddInt64(&m.misses, 1)
	res, err, _ := m.group.Do(loadKey, func() (any, error) {
		gen := m.generation()
		v, err := m.repo.LoadVocabulary(ctx)
		if err != nil {
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
		m.store(v, gen)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return copyVocabulary(res.(*models.Vocabulary)), nil
}

// revalidate reports whether snap still matches the stored version.
// On mismatch the cache is invalidated.
func (m *Manager) revalidate(ctx context.Context, snap *models.Vocabulary) (bool, error) {
	atomic.AddInt64(&m.revalidations, 1)
	version, err := m.repo.LoadVocabularyVersion(ctx)
	if err != nil {
		return false, fmt.Errorf("load vocabulary version: %w", err)
	}
	if version == snap.Version {
		m.mu.Lock()
		if m.snapshot == snap {
			m.loadedAt = m.now()
		}
		m.mu.Unlock()
		return true, nil
	}
	m.log.Debug().Int64("cached", snap.Version).Int64("stored", version).Msg("vocabulary changed elsewhere")
	m.Invalidate()
	return false, nil
}

// AddTags merges candidates into the vocabulary and returns the resulting tag list.
// It is a no-op when every candidate is already present.
func (m *Manager) AddTags(ctx context.Context, candidates []string) ([]string, error) {
	res, err := m.Add(ctx, candidates)
	if err != nil {
		return nil, err
	}
	return res.Tags, nil
}

// Add is AddTags with growth details.
//
// Candidates are trimmed and lowercased, empties dropped. The union with the
// stored vocabulary keeps existing positions and appends new tags in sorted
// order. A lost compare-and-swap is retried from a fresh read up to the
// configured attempt limit.
func (m *Manager) Add(ctx context.Context, candidates []string) (*AddResult, error) {
	wanted := cleanCandidates(candidates)

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		gen := m.generation()
		current, err := m.repo.LoadVocabulary(ctx)
		if err != nil {
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}

		merged, added := union(current.Tags, wanted)
		if len(added) == 0 {
			m.store(current, gen)
			return &AddResult{Tags: current.Tags, Added: []string{}, Version: current.Version}, nil
		}

		saved, err := m.repo.SaveVocabulary(ctx, merged, current.Version)
		if err == nil {
			m.Invalidate()
			m.markSeen(saved.Version)
			m.publish(ctx, saved.Version)
			m.log.Debug().Int("added", len(added)).Int64("version", saved.Version).Msg("vocabulary grew")
			return &AddResult{Tags: saved.Tags, Added: added, Version: saved.Version}, nil
		}
		if !errors.Is(err, models.ErrLostUpdate) {
			return nil, fmt.Errorf("save vocabulary: %w", err)
		}

		lastErr = err
		atomic.AddInt64(&m.retries, 1)
		m.log.Debug().Int("attempt", attempt).Msg("vocabulary write lost race, retrying")
	}
	return nil, fmt.Errorf("add tags after %d attempts: %w", m.maxAttempts, lastErr)
}

// Invalidate drops the cached snapshot.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.snapshot = nil
	m.loadedAt = time.Time{}
	m.gen++
	m.mu.Unlock()
	atomic.AddInt64(&m.invalidations, 1)
}

// ObserveVersion invalidates the cache if version is newer than any version
// this process has seen. Subscribers call it when another process announces
// a growth. The generation bump also discards a load still in flight, which
// may have read the vocabulary before the announced write.
func (m *Manager) ObserveVersion(version int64) bool {
	m.mu.Lock()
	if version <= m.seen {
		m.mu.Unlock()
		return false
	}
	m.seen = version
	m.snapshot = nil
	m.loadedAt = time.Time{}
	m.gen++
	m.mu.Unlock()

	atomic.AddInt64(&m.invalidations, 1)
	return true
}

// Stats returns cache counters and the cached version (0 when empty).
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	var version int64
	if m.snapshot != nil {
		version = m.snapshot.Version
	}
	m.mu.RUnlock()

	return Stats{
		Hits:          atomic.LoadInt64(&m.hits),
		Misses:        atomic.LoadInt64(&m.misses),
		Invalidations: atomic.LoadInt64(&m.invalidations),
		Revalidations: atomic.LoadInt64(&m.revalidations),
		Retries:       atomic.LoadInt64(&m.retries),
		Version:       version,
	}
}

func (m *Manager) generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// store caches v if no invalidation happened since gen was read
// and no newer snapshot is cached.
func (m *Manager) store(v *models.Vocabulary, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = max(m.seen, v.Version)
	if m.gen != gen {
		return
	}
	if m.snapshot != nil && m.snapshot.Version > v.Version {
		return
	}
	m.snapshot = copyVocabulary(v)
	m.loadedAt = m.now()
}

func (m *Manager) markSeen(version int64) {
	m.mu.Lock()
	m.seen = max(m.seen, version)
	m.mu.Unlock()
}

func (m *Manager) publish(ctx context.Context, version int64) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, version); err != nil {
		m.log.Warn().Err(err).Int64("version", version).Msg("failed to announce vocabulary growth")
	}
}

func cleanCandidates(candidates []string) []string {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tag := strings.ToLower(strings.TrimSpace(c))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// union returns existing followed by the sorted members of wanted it lacks.
func union(existing, wanted []string) (merged, added []string) {
	have := models.NewTagSet(existing...)
	added = make([]string, 0)
	for _, tag := range wanted {
		if !have.Has(tag) {
			added = append(added, tag)
		}
	}
	sort.Strings(added)
	merged = make([]string, 0, len(existing)+len(added))
	merged = append(merged, existing...)
	merged = append(merged, added...)
	return merged, added
}

func copyVocabulary(v *models.Vocabulary) *models.Vocabulary {
	return &models.Vocabulary{
		Tags:      append([]string{}, v.Tags...),
		Version:   v.Version,
		UpdatedAt: v.UpdatedAt,
	}
}
