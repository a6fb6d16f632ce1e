package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/andrew/avatar-studio/internal/localstore"
)

// FileStore keeps the log as JSON lines in dir/botsrhere-token-usage.jsonl.
// Concurrent writers append whole lines, and Load returns all of them.
type FileStore struct {
	log *localstore.Log
}

// NewFileStore opens (or creates) the usage log inside dir.
func NewFileStore(dir string) (*FileStore, error) {
	log, err := localstore.OpenLog(filepath.Join(dir, StorageKey+".jsonl"))
	if err != nil {
		return nil, err
	}
	return &FileStore{log: log}, nil
}

func (s *FileStore) Load(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.log.Each(func(raw json.RawMessage) error {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode usage record: %w", err)
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

func (s *FileStore) Append(ctx context.Context, rec Record) error {
	return s.log.Append(rec)
}
