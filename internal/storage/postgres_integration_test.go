//go:build postgres

package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"bitriver-relay/internal/models"
)

// TestPostgresArchiveRoundTrip exercises the Postgres driver against a real
// database. Set BITRIVER_RELAY_TEST_POSTGRES_DSN to run it.
func TestPostgresArchiveRoundTrip(t *testing.T) {
	dsn := os.Getenv("BITRIVER_RELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BITRIVER_RELAY_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	archive, err := NewPostgresArchive(ctx, dsn,
		WithPostgresApplicationName("bitriver-relay-test"),
		WithPostgresPoolLimits(2, 0),
	)
	if err != nil {
		t.Fatalf("open postgres archive: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = archive.Close(closeCtx)
	})

	if err := archive.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	started := base.Add(-45 * time.Second)
	record := models.SessionRecord{
		ID:              "it-sess-1",
		ConnectionID:    "it-conn-1",
		TargetURL:       "rtmp://origin.example/live",
		StreamKeyDigest: "pbkdf2$sha256$120000$c2FsdA$aGFzaA",
		Width:           1280,
		Height:          720,
		FPS:             30,
		BitrateKbps:     2500,
		StartedAt:       &started,
		EndedAt:         base,
		DurationSeconds: 45,
		BytesIngested:   4500,
		Reason:          models.ReasonClean,
	}
	if err := archive.SaveRecord(ctx, record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	record.BytesIngested = 9000
	record.Reason = models.ReasonError
	record.Error = "encoder exited with code 1"
	if err := archive.SaveRecord(ctx, record); err != nil {
		t.Fatalf("upsert record: %v", err)
	}

	got, err := archive.GetRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.BytesIngested != 9000 || got.Reason != models.ReasonError {
		t.Fatalf("unexpected record after upsert: %+v", got)
	}

	records, err := archive.ListRecords(ctx, 10)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	found := false
	for _, item := range records {
		if item.ID == record.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected record in listing")
	}

	if _, err := archive.GetRecord(ctx, "it-missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
