package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const applicationName = "juicer"

// Options sizes the history pool. History sees one write per finished job
// plus API reads, so a handful of connections is plenty.
type Options struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	MaxConnIdle    time.Duration
	ConnectTimeout time.Duration
}

// DB is the Postgres history backend's connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func (o Options) poolConfig() (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		cfg.MinConns = min(o.MinConns, cfg.MaxConns)
	}
	if o.MaxConnIdle > 0 {
		cfg.MaxConnIdleTime = o.MaxConnIdle
	}
	if o.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = o.ConnectTimeout
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return cfg, nil
}

// Connect opens the pool and pings it once.
func Connect(ctx context.Context, opts Options, log zerolog.Logger) (*DB, error) {
	cfg, err := opts.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(opts.URL)).
		Str("database", cfg.ConnConfig.Database).
		Str("application_name", cfg.ConnConfig.RuntimeParams["application_name"]).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Dur("max_conn_idle", cfg.MaxConnIdleTime).
		Msg("history database connected")

	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

// maskDSN hides the password so the URL can be logged.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	st := db.Pool.Stat()
	db.log.Info().
		Int64("acquires", st.AcquireCount()).
		Int32("total_conns", st.TotalConns()).
		Msg("closing history database pool")
	db.Pool.Close()
}
