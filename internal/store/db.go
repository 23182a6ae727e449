package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenOptions tune connection startup. Zero values use the defaults below.
type OpenOptions struct {
	// ConnectTimeout bounds the total time spent waiting for the first ping.
	ConnectTimeout time.Duration
	Logger         *log.Logger
}

const defaultConnectTimeout = 30 * time.Second

// Open returns a pooled connection to Postgres. The first ping is retried
// with exponential backoff so the API can start alongside its database.
func Open(ctx context.Context, databaseURL string, opts ...OpenOptions) (*sql.DB, error) {
	var opt OpenOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.ConnectTimeout <= 0 {
		opt.ConnectTimeout = defaultConnectTimeout
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = opt.ConnectTimeout

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := db.PingContext(pingCtx)
		if err != nil && opt.Logger != nil {
			opt.Logger.Warn("database not ready", "attempt", attempt, "err", err)
		}
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
