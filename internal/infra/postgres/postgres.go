package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pslib/urlshortener/config"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultHost        = "localhost"
	defaultPort        = 5432
	defaultSSLMode     = "disable"
)

// NewPool opens a small pgx pool beside the gorm connection. It backs the
// readiness check so health checks never queue behind store traffic.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	poolCfg.MaxConns = 2
	if cfg.MinConns > 0 {
		poolCfg.MinConns = min(cfg.MinConns, poolCfg.MaxConns)
	}
	timings, err := parseTimings(cfg)
	if err != nil {
		return nil, err
	}
	if timings.maxLifetime > 0 {
		poolCfg.MaxConnLifetime = timings.maxLifetime
	}
	if timings.maxIdle > 0 {
		poolCfg.MaxConnIdleTime = timings.maxIdle
	}
	if timings.healthCheck > 0 {
		poolCfg.HealthCheckPeriod = timings.healthCheck
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return pool, nil
}

type poolTimings struct {
	maxLifetime time.Duration
	maxIdle     time.Duration
	healthCheck time.Duration
}

// parseTimings rejects malformed durations instead of silently falling back.
func parseTimings(cfg config.PostgresConfig) (poolTimings, error) {
	var t poolTimings
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"max_conn_lifetime", cfg.MaxConnLifetime, &t.maxLifetime},
		{"max_conn_idle_time", cfg.MaxConnIdleTime, &t.maxIdle},
		{"health_check_period", cfg.HealthCheckPeriod, &t.healthCheck},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return poolTimings{}, fmt.Errorf("postgres: invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return t, nil
}

// ConnString renders cfg as a postgres:// URL usable by both pgx and gorm.
func ConnString(cfg config.PostgresConfig) string {
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else if cfg.User != "" {
		u.User = url.User(cfg.User)
	}
	return u.String()
}
