// Package config provides configuration management for venuescout.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38080

	// DefaultDatabaseDriver keeps a fresh install self-contained.
	DefaultDatabaseDriver = "sqlite"

	envPrefix = "VENUESCOUT_"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerHost string `json:"worker_host"`
	WorkerPort int    `json:"worker_port"`

	// Browser origins allowed by CORS, none by default
	CORSOrigins []string `json:"cors_origins"`

	// Recommendation requests per client IP per minute, 0 disables the limit
	RecommendationRateLimit int `json:"recommendation_rate_limit"`

	// Database settings
	DatabaseDriver string `json:"database_driver"` // postgres or sqlite
	DatabaseDSN    string `json:"database_dsn"`    // postgres URL or SQLite file path
	MaxConns       int    `json:"max_conns"`

	// Cross-process vocabulary invalidation, disabled when empty
	RedisURL string `json:"redis_url"`

	// Scoring settings
	BlendSimilarity    float64 `json:"blend_similarity"`
	BlendProximity     float64 `json:"blend_proximity"`
	BlendRating        float64 `json:"blend_rating"`
	FeedbackRadius     float64 `json:"feedback_radius"`   // meters
	GenerationRadius   float64 `json:"generation_radius"` // meters
	ScoringConcurrency int     `json:"scoring_concurrency"`

	// Promotion settings
	PromotionQuorum int `json:"promotion_quorum"`

	// Vocabulary settings
	VocabularyCacheMaxAge time.Duration `json:"vocabulary_cache_max_age"`
	VocabularyMaxAttempts int           `json:"vocabulary_max_attempts"`

	// Preference label table, built-in when empty
	PreferenceMappingPath string `json:"preference_mapping_path"`

	// Maintenance settings
	MaintenanceEnabled       bool `json:"maintenance_enabled"`
	MaintenanceIntervalHours int  `json:"maintenance_interval_hours"`
	ScoreRetentionDays       int  `json:"score_retention_days"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.venuescout).
// VENUESCOUT_DATA_DIR overrides it.
func DataDir() string {
	if dir := os.Getenv(envPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".venuescout")
}

// DBPath returns the default SQLite database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "venuescout.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerHost:               "127.0.0.1",
		WorkerPort:               DefaultWorkerPort,
		RecommendationRateLimit:  120,
		DatabaseDriver:           DefaultDatabaseDriver,
		DatabaseDSN:              DBPath(),
		MaxConns:                 10,
		BlendSimilarity:          0.6,
		BlendProximity:           0.2,
		BlendRating:              0.2,
		FeedbackRadius:           10000,
		GenerationRadius:         40000,
		ScoringConcurrency:       8,
		PromotionQuorum:          2,
		VocabularyCacheMaxAge:    30 * time.Second,
		VocabularyMaxAttempts:    5,
		MaintenanceEnabled:       true,
		MaintenanceIntervalHours: 24,
		ScoreRetentionDays:       30,
	}
}

// Load reads the settings file, merges it over the defaults and applies
// VENUESCOUT_* environment overrides.
func Load() (*Config, error) {
	return LoadFrom(SettingsPath())
}

// LoadFrom is Load with an explicit settings path.
// A missing file yields defaults; a malformed file is an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Load settings into a map so unknown keys are ignored
		var settings map[string]interface{}
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, err
		}
		applySettings(cfg, func(key string) (string, bool) {
			v, ok := settings[envPrefix+key]
			if !ok || v == nil {
				return "", false
			}
			if s, isString := v.(string); isString {
				return s, true
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return "", false
			}
			return string(raw), true
		})
	case !os.IsNotExist(err):
		return nil, err
	}

	applySettings(cfg, func(key string) (string, bool) {
		v := os.Getenv(envPrefix + key)
		return v, v != ""
	})
	return cfg, nil
}

// applySettings copies every recognised key from lookup into cfg.
// Out-of-range values are ignored.
func applySettings(cfg *Config, lookup func(key string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	positiveInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64, valid func(float64) bool) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && valid(f) {
				*dst = f
			}
		}
	}
	unit := func(f float64) bool { return f >= 0 && f <= 1 }
	positive := func(f float64) bool { return f > 0 }

	str("WORKER_HOST", &cfg.WorkerHost)
	positiveInt("WORKER_PORT", &cfg.WorkerPort)
	if v, ok := lookup("CORS_ORIGINS"); ok {
		cfg.CORSOrigins = parseList(v)
	}
	if v, ok := lookup("RECOMMENDATION_RATE_LIMIT"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.RecommendationRateLimit = n
		}
	}
	str("DATABASE_DRIVER", &cfg.DatabaseDriver)
	str("DATABASE_DSN", &cfg.DatabaseDSN)
	positiveInt("MAX_CONNS", &cfg.MaxConns)
	str("REDIS_URL", &cfg.RedisURL)
	float("BLEND_SIMILARITY", &cfg.BlendSimilarity, unit)
	float("BLEND_PROXIMITY", &cfg.BlendProximity, unit)
	float("BLEND_RATING", &cfg.BlendRating, unit)
	float("FEEDBACK_RADIUS", &cfg.FeedbackRadius, positive)
	float("GENERATION_RADIUS", &cfg.GenerationRadius, positive)
	positiveInt("SCORING_CONCURRENCY", &cfg.ScoringConcurrency)
	positiveInt("PROMOTION_QUORUM", &cfg.PromotionQuorum)
	positiveInt("VOCABULARY_MAX_ATTEMPTS", &cfg.VocabularyMaxAttempts)
	str("PREFERENCE_MAPPING_PATH", &cfg.PreferenceMappingPath)
	positiveInt("MAINTENANCE_INTERVAL_HOURS", &cfg.MaintenanceIntervalHours)
	positiveInt("SCORE_RETENTION_DAYS", &cfg.ScoreRetentionDays)
	if v, ok := lookup("MAINTENANCE_ENABLED"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MaintenanceEnabled = b
		}
	}

	// Accepts Go durations ("45s") or bare seconds ("45").
	if v, ok := lookup("VOCABULARY_CACHE_MAX_AGE"); ok {
		v = strings.TrimSpace(v)
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.VocabularyCacheMaxAge = d
		} else if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.VocabularyCacheMaxAge = time.Duration(secs) * time.Second
		}
	}
}

// parseList accepts a JSON array or a comma-separated string.
func parseList(v string) []string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var items []string
		if err := json.Unmarshal([]byte(v), &items); err == nil {
			return splitTrim(strings.Join(items, ","))
		}
	}
	return splitTrim(v)
}

// splitTrim splits a comma-separated string and drops empty entries.
func splitTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Set replaces the global configuration.
func Set(cfg *Config) {
	configOnce.Do(func() {})
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
}
