package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lehigh-university-libraries/doisync/internal/models"
)

// Store keeps the record collection served by the reference endpoint.
type Store interface {
	Get(ctx context.Context, doi string) (models.Raw, bool, error)
	Put(ctx context.Context, doi string, rec models.Raw) error
	All(ctx context.Context) (models.Collection, error)
}

// MemoryStore holds records in memory and, when a snapshot path is set,
// rewrites the whole collection to that JSON file after every Put.
type MemoryStore struct {
	records  models.Collection
	snapshot string
	mu       sync.RWMutex
}

func New() *MemoryStore {
	return &MemoryStore{
		records: make(models.Collection),
	}
}

// NewWithSnapshot loads path if it exists and keeps it up to date.
func NewWithSnapshot(path string) (*MemoryStore, error) {
	s := New()
	s.snapshot = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if s.records == nil {
		s.records = make(models.Collection)
	}
	return s, nil
}

func (s *MemoryStore) Get(_ context.Context, doi string) (models.Raw, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[doi]
	return rec, exists, nil
}

func (s *MemoryStore) Put(_ context.Context, doi string, rec models.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == "" {
		s.records[doi] = rec
		return nil
	}

	prev, existed := s.records[doi]
	s.records[doi] = rec
	if err := s.writeSnapshot(); err != nil {
		// Memory must not get ahead of the file.
		if existed {
			s.records[doi] = prev
		} else {
			delete(s.records, doi)
		}
		return err
	}
	return nil
}

func (s *MemoryStore) All(_ context.Context) (models.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(models.Collection, len(s.records))
	for k, v := range s.records {
		result[k] = v
	}
	return result, nil
}

// writeSnapshot must be called with the write lock held.
func (s *MemoryStore) writeSnapshot() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if dir := filepath.Dir(s.snapshot); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	tmp := s.snapshot + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshot); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
