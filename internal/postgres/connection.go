// Package postgres is the relational persistence layer of §3/§4.2: the
// transactional store of jobs, workflow_steps, work_items, user_work,
// job_links and job_errors, built on jackc/pgx/v5's pgxpool rather than
// the teacher's database/sql+sqlite pairing, because the Dispatcher's
// selection algorithm (§4.3) requires SELECT ... FOR UPDATE SKIP LOCKED, a
// construct sqlite has no equivalent for.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"
)

// Config configures the pgxpool connection.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// Open establishes a connection pool to Postgres, mirroring the teacher's
// connection-setup idiom (structured log lines, wrapped errors) adapted to
// pgxpool's config object.
func Open(ctx context.Context, cfg Config, logger arbor.ILogger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	logger.Debug().Int32("max_conns", poolCfg.MaxConns).Msg("Opening postgres connection pool")

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Debug().Msg("Postgres connection pool established")

	return pool, nil
}
