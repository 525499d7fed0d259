package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"bitriver-relay/internal/models"
)

type archiveData struct {
	Records map[string]models.SessionRecord `json:"records"`
}

// Archive is the JSON-file-backed session archive used for single-node
// deployments. Every mutation rewrites the backing file atomically.
type Archive struct {
	mu       sync.RWMutex
	filePath string
	data     archiveData
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(archiveData) error
	retentionLimit  int
}

// NewArchive opens the archive at path, creating the parent directory and an
// empty dataset when the file does not exist yet.
func NewArchive(path string, opts ...Option) (*Archive, error) {
	archive := &Archive{filePath: path}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(archive)
		}
	}
	if err := archive.load(); err != nil {
		return nil, err
	}
	return archive, nil
}

func newArchiveData() archiveData {
	return archiveData{Records: make(map[string]models.SessionRecord)}
}

func (a *Archive) load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(a.filePath)
	if errors.Is(err, os.ErrNotExist) {
		a.data = newArchiveData()
		return nil
	} else if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&a.data); err != nil {
		if errors.Is(err, io.EOF) {
			a.data = newArchiveData()
			return nil
		}
		return fmt.Errorf("decode archive file: %w", err)
	}
	if a.data.Records == nil {
		a.data.Records = make(map[string]models.SessionRecord)
	}
	return nil
}

func (a *Archive) persistData(data archiveData) error {
	if a.persistOverride != nil {
		if err := a.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(a.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "archive-*.json")
	if err != nil {
		return fmt.Errorf("create temp archive file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode archive file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush archive file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp archive file: %w", err)
	}

	if err := os.Rename(tmpPath, a.filePath); err != nil {
		return fmt.Errorf("replace archive file: %w", err)
	}
	success = true
	return nil
}

func cloneArchiveData(src archiveData) archiveData {
	clone := newArchiveData()
	for id, record := range src.Records {
		clone.Records[id] = record
	}
	return clone
}

// Ping reports whether the archive directory is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(a.filePath)); err != nil {
		return fmt.Errorf("archive dir unavailable: %w", err)
	}
	return nil
}

func (a *Archive) SaveRecord(ctx context.Context, record models.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("record id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	updated := cloneArchiveData(a.data)
	updated.Records[record.ID] = record
	pruneRecords(updated.Records, a.retentionLimit)

	if err := a.persistData(updated); err != nil {
		return err
	}
	a.data = updated
	return nil
}

func (a *Archive) GetRecord(ctx context.Context, id string) (models.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.SessionRecord{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	record, ok := a.data.Records[id]
	if !ok {
		return models.SessionRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (a *Archive) ListRecords(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	records := make([]models.SessionRecord, 0, len(a.data.Records))
	for _, record := range a.data.Records {
		records = append(records, record)
	}
	a.mu.RUnlock()

	sortRecordsByEndedAt(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close is a no-op for the JSON driver.
func (a *Archive) Close(ctx context.Context) error {
	return nil
}

func sortRecordsByEndedAt(records []models.SessionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].EndedAt.Equal(records[j].EndedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].EndedAt.After(records[j].EndedAt)
	})
}

func pruneRecords(records map[string]models.SessionRecord, limit int) {
	if limit <= 0 || len(records) <= limit {
		return
	}
	ordered := make([]models.SessionRecord, 0, len(records))
	for _, record := range records {
		ordered = append(ordered, record)
	}
	sortRecordsByEndedAt(ordered)
	for _, record := range ordered[limit:] {
		delete(records, record.ID)
	}
}
