package storage

import (
	"context"
	"errors"

	"bitriver-relay/internal/models"
)

// ErrRecordNotFound is returned when a session record lookup misses.
var ErrRecordNotFound = errors.New("session record not found")

// ArchiveRepository exposes the datastore operations required by the session
// registry and the operator API. Implementations must be safe for concurrent
// use.
type ArchiveRepository interface {
	Ping(ctx context.Context) error

	// SaveRecord upserts the terminal record for a session. Saving the
	// same record twice replaces the stored copy.
	SaveRecord(ctx context.Context, record models.SessionRecord) error
	GetRecord(ctx context.Context, id string) (models.SessionRecord, error)
	// ListRecords returns records ordered by EndedAt descending. A
	// non-positive limit returns every stored record.
	ListRecords(ctx context.Context, limit int) ([]models.SessionRecord, error)

	Close(ctx context.Context) error
}

var (
	_ ArchiveRepository = (*Archive)(nil)
	_ ArchiveRepository = (*postgresArchive)(nil)
)
