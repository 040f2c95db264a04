package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// Registers the pure-Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Query timeouts.
const (
	// DefaultQueryTimeout is the default timeout for regular queries.
	DefaultQueryTimeout = 5 * time.Second
	// FastQueryTimeout is for point reads and health checks.
	FastQueryTimeout = 1 * time.Second
)

// Store is the GORM connection shared by every repository.
type Store struct {
	DB      *gorm.DB
	sqlDB   *sql.DB
	metrics *PoolMetrics
	driver  string
}

// Config holds database configuration.
type Config struct {
	Driver   string          // postgres (default) or sqlite
	DSN      string          // postgres://... or a SQLite file path
	MaxConns int             // Maximum open connections (default: 10, SQLite always 1)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database, configures the pool and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: sqliteDSN(cfg.DSN)}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	if driver == DriverSQLite {
		// One writer at a time; also keeps every caller on the same database.
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(1, maxConns/2))
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Debug().Str("driver", driver).Int("max_conns", maxConns).Msg("Database ready")

	return &Store{
		DB:      db,
		sqlDB:   sqlDB,
		driver:  driver,
		metrics: NewPoolMetrics(100),
	}, nil
}

// sqliteDSN adds the pragmas every connection needs.
func sqliteDSN(path string) string {
	if path == "" {
		path = "venuescout.db"
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Optimize refreshes planner statistics. SQLite additionally runs PRAGMA optimize.
func (s *Store) Optimize(ctx context.Context) error {
	start := time.Now()

	if _, err := s.sqlDB.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if s.driver == DriverSQLite {
		if _, err := s.sqlDB.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			return fmt.Errorf("pragma optimize: %w", err)
		}
	}

	log.Debug().Str("driver", s.driver).Dur("duration", time.Since(start)).Msg("Database optimization complete")
	return nil
}

// HealthCheck measures a trivial query and reports pool usage.
func (s *Store) HealthCheck(ctx context.Context) *HealthInfo {
	ctx, cancel := context.WithTimeout(ctx, FastQueryTimeout)
	defer cancel()

	info := &HealthInfo{Status: "healthy", Timestamp: time.Now()}

	stats := s.sqlDB.Stats()
	info.OpenConnections = stats.OpenConnections
	info.InUse = stats.InUse
	info.WaitCount = stats.WaitCount

	start := time.Now()
	var one int
	err := s.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	info.QueryLatency = time.Since(start)
	s.metrics.RecordLatency(info.QueryLatency)
	info.P95Latency = s.metrics.P95()

	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}
	if stats.OpenConnections > 0 && float64(stats.InUse)/float64(stats.OpenConnections) > 0.8 {
		info.Status = "degraded"
		info.Warning = "Connection pool heavily utilized"
	}
	if info.P95Latency > 50*time.Millisecond {
		info.Status = "degraded"
		info.Warning = fmt.Sprintf("High P95 latency: %v", info.P95Latency)
	}
	return info
}

// HealthInfo contains database health check results.
type HealthInfo struct {
	Timestamp       time.Time     `json:"timestamp"`
	Status          string        `json:"status"`
	Error           string        `json:"error,omitempty"`
	Warning         string        `json:"warning,omitempty"`
	QueryLatency    time.Duration `json:"query_latency_ns"`
	P95Latency      time.Duration `json:"p95_latency_ns"`
	WaitCount       int64         `json:"wait_count"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
}

// PoolMetrics keeps a sliding window of query latencies.
type PoolMetrics struct {
	samples []time.Duration
	idx     int
	count   int
	mu      sync.Mutex
}

// NewPoolMetrics creates a collector holding the last windowSize samples.
func NewPoolMetrics(windowSize int) *PoolMetrics {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &PoolMetrics{samples: make([]time.Duration, windowSize)}
}

// RecordLatency records a query latency sample.
func (m *PoolMetrics) RecordLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.idx] = latency
	m.idx = (m.idx + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}
}

// P95 returns the 95th percentile latency, or 0 with fewer than 20 samples.
func (m *PoolMetrics) P95() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count < 20 {
		return 0
	}
	sorted := slices.Clone(m.samples[:m.count])
	slices.Sort(sorted)
	return sorted[int(float64(len(sorted))*0.95)]
}

// WithTimeout wraps a context with the given timeout and logs slow operations.
func (s *Store) WithTimeout(ctx context.Context, timeout time.Duration, operation string) (context.Context, context.CancelFunc) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()

	return timeoutCtx, func() {
		elapsed := time.Since(start)
		cancel()

		if elapsed > 100*time.Millisecond {
			log.Warn().
				Str("operation", operation).
				Dur("elapsed", elapsed).
				Dur("timeout", timeout).
				Msg("Slow database operation")
		}
	}
}

// TransactionWithTimeout runs fn in a transaction that is rolled back on error or timeout.
func (s *Store) TransactionWithTimeout(ctx context.Context, timeout time.Duration, operation string, fn func(*gorm.DB) error) error {
	timeoutCtx, cancel := s.WithTimeout(ctx, timeout, operation)
	defer cancel()

	return s.DB.WithContext(timeoutCtx).Transaction(func(tx *gorm.DB) error {
		select {
		case <-timeoutCtx.Done():
			return timeoutCtx.Err()
		default:
		}
		return fn(tx)
	})
}
