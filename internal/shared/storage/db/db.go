// Package db opens the Postgres pool used by the postgres row store and
// applies its schema migrations.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"youposm/internal/shared/retry"
	"youposm/internal/shared/storeerr"
)

// Options sizes the pool and bounds the startup connectivity check.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	// PingAttempts covers a database that is still starting, as on a fresh
	// Cloud SQL proxy sidecar.
	PingAttempts int
}

var openDB = sql.Open

// DefaultServerOptions suits one API instance handling a few form posts at a time.
func DefaultServerOptions() Options {
	return Options{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxIdleTime: time.Minute,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
		PingAttempts:    3,
	}
}

// DefaultMigrateOptions suits the one-shot migrate command.
func DefaultMigrateOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     10 * time.Second,
		PingAttempts:    5,
	}
}

// OptionsFromEnv applies DB_* overrides to defaults. Invalid or non-positive
// values are logged and ignored.
func OptionsFromEnv(defaults Options) Options {
	opts := defaults
	ints := []struct {
		key string
		dst *int
	}{
		{"DB_MAX_OPEN_CONNS", &opts.MaxOpenConns},
		{"DB_MAX_IDLE_CONNS", &opts.MaxIdleConns},
		{"DB_PING_ATTEMPTS", &opts.PingAttempts},
	}
	for _, e := range ints {
		if v, ok := envInt(e.key); ok {
			*e.dst = v
		}
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", &opts.ConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", &opts.ConnMaxIdleTime},
		{"DB_PING_TIMEOUT", &opts.PingTimeout},
	}
	for _, e := range durations {
		if v, ok := envDuration(e.key); ok {
			*e.dst = v
		}
	}
	return opts
}

func (o Options) withDefaults() Options {
	d := DefaultServerOptions()
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = d.MaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = d.MaxIdleConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = d.PingTimeout
	}
	if o.PingAttempts <= 0 {
		o.PingAttempts = 1
	}
	return o
}

// Connect opens a pgx-backed *sql.DB and pings it, retrying transient
// failures up to opts.PingAttempts times.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	opts = opts.withDefaults()

	sqlDB, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	err = retry.Do(ctx, retry.DefaultPolicy(opts.PingAttempts), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
		if err := sqlDB.PingContext(pingCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return storeerr.Wrap(storeerr.ErrTransient, err)
			}
			return Classify(err)
		}
		return nil
	}, func(attempt int, err error) {
		log.Printf("db: ping attempt %d failed: %v", attempt, err)
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	stats := sqlDB.Stats()
	log.Printf("db: connected open=%d max_open=%d", stats.OpenConnections, stats.MaxOpenConnections)
	return sqlDB, nil
}

// Classify maps driver and SQLSTATE errors onto the storeerr kinds.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) {
		return storeerr.Wrap(storeerr.ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch code := pgErr.Code; {
		case code == "28000" || code == "28P01" || code == "42501":
			return storeerr.Wrap(storeerr.ErrUnauthorized, err)
		case code == "42P01" || code == "3D000":
			return storeerr.Wrap(storeerr.ErrNotFound, err)
		case code == "53300" || code == "40001" || code == "40P01" || code == "57P03" || strings.HasPrefix(code, "08"):
			return storeerr.Wrap(storeerr.ErrTransient, err)
		case strings.HasPrefix(code, "53"):
			return storeerr.Wrap(storeerr.ErrQuotaExceeded, err)
		}
	}
	return storeerr.Classify(err)
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("db: env %s=%q ignored", key, raw)
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		log.Printf("db: env %s=%q ignored", key, raw)
		return 0, false
	}
	return v, true
}
