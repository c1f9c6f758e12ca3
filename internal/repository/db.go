package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// Dialect selects placeholder style and DDL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectFor picks Postgres for postgres:// DSNs and SQLite for anything else.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to the record database and migrates the schema. Postgres goes through a
// pgx pool wrapped as *sql.DB; SQLite uses the cgo-free modernc driver.
func Open(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialect := DialectFor(cfg.DSN)
	logger.Info("connecting to database", "dialect", dialect)

	var (
		db   *sql.DB
		pool *pgxpool.Pool
		err  error
	)
	switch dialect {
	case DialectPostgres:
		pool, err = openPool(ctx, cfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		db = stdlib.OpenDBFromPool(pool)
	default:
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			logger.Error("failed to open sqlite database", "error", err)
			return nil, err
		}
		// :memory: databases live per connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	store := NewSQLStore(db, dialect, logger)
	store.pool = pool
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("successfully connected to database", "dialect", dialect)
	return store, nil
}

func openPool(ctx context.Context, cfg common.StoreConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docflow"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}

// Close closes the database connections gracefully.
func (s *SQLStore) Close() {
	s.logger.Info("closing database connections")
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close database", "error", err)
	}
	if s.pool != nil {
		s.pool.Close()
	}
	s.logger.Info("database connections closed")
}

// HealthCheck pings the database with an optional timeout.
func HealthCheck(ctx context.Context, store RecordStore, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := store.Ping(ctx); err != nil {
		logger.Warn("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}
