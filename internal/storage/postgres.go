package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bitriver-relay/internal/models"
)

// PostgresConfig describes how the archive initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	RetentionLimit      int
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{DSN: dsn}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	return cfg
}

type postgresArchive struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

const relaySessionsSchema = `
CREATE TABLE IF NOT EXISTS relay_sessions (
    id TEXT PRIMARY KEY,
    connection_id TEXT NOT NULL,
    target_url TEXT NOT NULL,
    stream_key_digest TEXT NOT NULL DEFAULT '',
    width INTEGER NOT NULL,
    height INTEGER NOT NULL,
    fps INTEGER NOT NULL,
    bitrate_kbps INTEGER NOT NULL,
    hardware_accel BOOLEAN NOT NULL DEFAULT FALSE,
    started_at TIMESTAMPTZ,
    ended_at TIMESTAMPTZ NOT NULL,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    bytes_ingested BIGINT NOT NULL DEFAULT 0,
    reason TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS relay_sessions_ended_at_idx ON relay_sessions (ended_at DESC);
`

// NewPostgresArchive opens a Postgres-backed archive and ensures the schema
// exists.
func NewPostgresArchive(ctx context.Context, dsn string, opts ...Option) (ArchiveRepository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	archive := &postgresArchive{pool: pool, cfg: cfg}
	if err := archive.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return archive, nil
}

func (r *postgresArchive) ensureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, relaySessionsSchema); err != nil {
		return fmt.Errorf("ensure relay_sessions schema: %w", err)
	}
	return nil
}

func (r *postgresArchive) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresArchive) SaveRecord(ctx context.Context, record models.SessionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("record id is required")
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO relay_sessions (
    id, connection_id, target_url, stream_key_digest,
    width, height, fps, bitrate_kbps, hardware_accel,
    started_at, ended_at, duration_seconds, bytes_ingested, reason, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
    connection_id = EXCLUDED.connection_id,
    target_url = EXCLUDED.target_url,
    stream_key_digest = EXCLUDED.stream_key_digest,
    width = EXCLUDED.width,
    height = EXCLUDED.height,
    fps = EXCLUDED.fps,
    bitrate_kbps = EXCLUDED.bitrate_kbps,
    hardware_accel = EXCLUDED.hardware_accel,
    started_at = EXCLUDED.started_at,
    ended_at = EXCLUDED.ended_at,
    duration_seconds = EXCLUDED.duration_seconds,
    bytes_ingested = EXCLUDED.bytes_ingested,
    reason = EXCLUDED.reason,
    error = EXCLUDED.error`,
		record.ID, record.ConnectionID, record.TargetURL, record.StreamKeyDigest,
		record.Width, record.Height, record.FPS, record.BitrateKbps, record.HardwareAccel,
		record.StartedAt, record.EndedAt.UTC(), record.DurationSeconds, record.BytesIngested,
		record.Reason, record.Error)
	if err != nil {
		return fmt.Errorf("insert session record %s: %w", record.ID, err)
	}
	if r.cfg.RetentionLimit > 0 {
		if err := r.pruneRecords(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *postgresArchive) pruneRecords(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
DELETE FROM relay_sessions
WHERE id NOT IN (
    SELECT id FROM relay_sessions ORDER BY ended_at DESC, id ASC LIMIT $1
)`, r.cfg.RetentionLimit)
	if err != nil {
		return fmt.Errorf("prune session records: %w", err)
	}
	return nil
}

func (r *postgresArchive) GetRecord(ctx context.Context, id string) (models.SessionRecord, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, connection_id, target_url, stream_key_digest,
    width, height, fps, bitrate_kbps, hardware_accel,
    started_at, ended_at, duration_seconds, bytes_ingested, reason, error
FROM relay_sessions WHERE id = $1`, id)
	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SessionRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("get session record %s: %w", id, err)
	}
	return record, nil
}

func (r *postgresArchive) ListRecords(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	query := `
SELECT id, connection_id, target_url, stream_key_digest,
    width, height, fps, bitrate_kbps, hardware_accel,
    started_at, ended_at, duration_seconds, bytes_ingested, reason, error
FROM relay_sessions ORDER BY ended_at DESC, id ASC`
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.pool.Query(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.pool.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	defer rows.Close()

	records := make([]models.SessionRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (models.SessionRecord, error) {
	var record models.SessionRecord
	err := row.Scan(
		&record.ID, &record.ConnectionID, &record.TargetURL, &record.StreamKeyDigest,
		&record.Width, &record.Height, &record.FPS, &record.BitrateKbps, &record.HardwareAccel,
		&record.StartedAt, &record.EndedAt, &record.DurationSeconds, &record.BytesIngested,
		&record.Reason, &record.Error)
	return record, err
}

func (r *postgresArchive) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
