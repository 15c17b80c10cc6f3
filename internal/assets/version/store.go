package version

import (
	"context"
	"sync"
	"time"
)

// Record captures the current version of one asset identifier. Change
// detection compares ContentHash values, never the Version strings: a version
// label carries no monotonicity guarantee, the bytes do.
type Record struct {
	AssetID     string    `json:"assetId"`
	Version     string    `json:"version"`
	ContentHash string    `json:"contentHash"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Changed reports whether other represents different content than this record.
func (r Record) Changed(other Record) bool {
	return r.ContentHash != other.ContentHash
}

// Store persists at most one Record per asset identifier.
type Store interface {
	Lookup(ctx context.Context, assetID string) (Record, bool, error)
	Store(ctx context.Context, record Record) error
	Delete(ctx context.Context, assetID string) error
	Close(ctx context.Context) error
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory returns a process-local version store.
func NewMemory() Store {
	return &memoryStore{records: make(map[string]Record)}
}

func (s *memoryStore) Lookup(_ context.Context, assetID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[assetID]
	return record, ok, nil
}

func (s *memoryStore) Store(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	s.records[record.AssetID] = record
	return nil
}

func (s *memoryStore) Delete(_ context.Context, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, assetID)
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
