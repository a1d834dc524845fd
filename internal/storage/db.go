package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/crunchypi/crunchypi/internal/storage/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB is the subset of *pgxpool.Pool the write jobs use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// PoolConfig tunes the history pool. Zero values keep pgx defaults.
type PoolConfig struct {
	URL            string
	MaxConns       int32
	MaxConnIdle    time.Duration
	ConnectTimeout time.Duration
}

// ParsePoolConfig turns a PoolConfig into a pgx pool config.
func ParsePoolConfig(pc PoolConfig) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		config.MaxConns = pc.MaxConns
	}
	if pc.MaxConnIdle > 0 {
		config.MaxConnIdleTime = pc.MaxConnIdle
	}
	if pc.ConnectTimeout > 0 {
		config.ConnConfig.ConnectTimeout = pc.ConnectTimeout
	}
	return config, nil
}

// NewPool opens the pool and pings it once so a bad DATABASE_URL fails at
// startup instead of on the first write.
func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	config, err := ParsePoolConfig(pc)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx := ctx
	if pc.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, pc.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s: %w", config.ConnConfig.Host, err)
	}

	log.Info().
		Str("host", config.ConnConfig.Host).
		Str("database", config.ConnConfig.Database).
		Int32("max_conns", config.MaxConns).
		Msg("history database connected")
	return pool, nil
}

// RunMigrations applies every embedded *.up.sql file in name order. Each
// file is idempotent, so this runs on every start.
func RunMigrations(ctx context.Context, db DB) error {
	names, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err = db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	log.Info().Int("applied", len(names)).Msg("database migrations applied")
	return nil
}
