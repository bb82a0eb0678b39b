// Package memory keeps eligibility records in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/scholarship-crawler/internal/records"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Store implements scholarship.RecordStore. IDs are assigned sequentially from 1.
type Store struct {
	mu      sync.RWMutex
	records []scholarship.Record
	byID    map[int64]int
	nextID  int64
	now     func() time.Time
}

var _ scholarship.RecordStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		byID:   make(map[int64]int),
		nextID: 1,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores r, returning it with its ID and creation time.
func (s *Store) Create(_ context.Context, r scholarship.Record) (scholarship.Record, error) {
	if err := records.Validate(r); err != nil {
		return scholarship.Record{}, fmt.Errorf("create record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID
	s.nextID++
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.byID[r.ID] = len(s.records)
	s.records = append(s.records, r)
	return r, nil
}

// Get returns the record with id.
func (s *Store) Get(_ context.Context, id int64) (scholarship.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return scholarship.Record{}, fmt.Errorf("record %d: %w", id, scholarship.ErrNotFound)
	}
	return s.records[i], nil
}

// GetByHash returns the earliest record created for an attachment hash.
func (s *Store) GetByHash(_ context.Context, hash string) (scholarship.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Hash == hash {
			return r, nil
		}
	}
	return scholarship.Record{}, fmt.Errorf("record with hash %s: %w", hash, scholarship.ErrNotFound)
}

// List returns every record in creation order.
func (s *Store) List(_ context.Context) ([]scholarship.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scholarship.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Update replaces the stored record with the same ID. CreatedAt is kept.
func (s *Store) Update(_ context.Context, r scholarship.Record) error {
	if err := records.Validate(r); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[r.ID]
	if !ok {
		return fmt.Errorf("record %d: %w", r.ID, scholarship.ErrNotFound)
	}
	r.CreatedAt = s.records[i].CreatedAt
	s.records[i] = r
	return nil
}

// Filter returns the records matching pred in creation order.
func (s *Store) Filter(_ context.Context, pred scholarship.Predicate) ([]scholarship.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scholarship.Record
	for _, r := range s.records {
		if pred.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
