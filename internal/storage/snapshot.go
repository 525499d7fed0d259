package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"bitriver-relay/internal/models"
)

// LoadArchiveSnapshot reads a JSON archive file from disk and returns its
// records ordered oldest first, ready to be replayed into another backing
// store.
func LoadArchiveSnapshot(path string) ([]models.SessionRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var data archiveData
	if err := decoder.Decode(&data); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode archive snapshot %s: %w", path, err)
	}

	records := make([]models.SessionRecord, 0, len(data.Records))
	for _, record := range data.Records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].EndedAt.Equal(records[j].EndedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].EndedAt.Before(records[j].EndedAt)
	})
	return records, nil
}

// ImportRecords replays records into repo and reports how many were written.
func ImportRecords(ctx context.Context, repo ArchiveRepository, records []models.SessionRecord) (int, error) {
	imported := 0
	for _, record := range records {
		if err := repo.SaveRecord(ctx, record); err != nil {
			return imported, fmt.Errorf("import record %s: %w", record.ID, err)
		}
		imported++
	}
	return imported, nil
}
