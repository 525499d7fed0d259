// Command migrate-archive copies a JSON session archive into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"bitriver-relay/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/archive.json", "path to the JSON archive to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("BITRIVER_RELAY_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, BITRIVER_RELAY_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	records, err := storage.LoadArchiveSnapshot(*jsonPath)
	if err != nil {
		logger.Error("failed to load archive snapshot", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded archive snapshot", "path", *jsonPath, "records", len(records))

	ctx := context.Background()
	repo, err := storage.NewPostgresArchive(ctx, dsn)
	if err != nil {
		logger.Error("failed to open postgres archive", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = repo.Close(context.Background())
	}()

	imported, err := storage.ImportRecords(ctx, repo, records)
	if err != nil {
		logger.Error("failed to import records", "imported", imported, "error", err)
		os.Exit(1)
	}

	if err := verifyCount(ctx, dsn, len(records)); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed", "records", imported)
}

// verifyCount re-reads the table through a fresh connection so a silently
// dropped insert cannot pass unnoticed. The archive may already hold records
// from earlier runs, so the check is a lower bound rather than an equality.
func verifyCount(ctx context.Context, dsn string, expected int) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	var actual int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM relay_sessions").Scan(&actual); err != nil {
		return fmt.Errorf("count relay_sessions: %w", err)
	}
	if actual < expected {
		return fmt.Errorf("mismatch for relay_sessions: expected at least %d, got %d", expected, actual)
	}
	return nil
}
