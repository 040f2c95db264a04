// Package gorm implements the venuescout repositories on GORM.
//
// PostgreSQL (pgx) is the production backend. SQLite on the pure-Go
// modernc.org/sqlite driver serves tests and single-node deployments.
// Both run the same gormigrate migrations on open.
//
//	store, err := gorm.NewStore(gorm.Config{
//	    Driver:   gorm.DriverPostgres,
//	    DSN:      "postgres://venuescout@localhost/venuescout",
//	    MaxConns: 10,
//	    LogLevel: logger.Silent,
//	})
//	repo := gorm.NewRepository(store)
package gorm
