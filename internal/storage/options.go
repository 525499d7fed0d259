package storage

import (
	"strings"
	"time"
)

// Option mutates driver configuration. Options that only apply to one driver
// are silently ignored by the other.
type Option interface {
	applyJSON(*Archive)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	json func(*Archive)
	pg   func(*PostgresConfig)
}

func (o optionAdapter) applyJSON(archive *Archive) {
	if o.json != nil && archive != nil {
		o.json(archive)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func composeOption(json func(*Archive), pg func(*PostgresConfig)) Option {
	return optionAdapter{json: json, pg: pg}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithRetentionLimit caps how many terminal records the archive keeps. Once
// the cap is exceeded the oldest records are pruned. Zero disables pruning.
func WithRetentionLimit(limit int) Option {
	return composeOption(
		func(a *Archive) {
			if limit >= 0 {
				a.retentionLimit = limit
			}
		},
		func(cfg *PostgresConfig) {
			if limit >= 0 {
				cfg.RetentionLimit = limit
			}
		},
	)
}

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresAcquireTimeout configures how long the archive waits to obtain
// a connection from the pool.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}
