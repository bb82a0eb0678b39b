// Package dedup tracks the content hashes of attachments that have already
// been processed so that a refresh never converts the same file twice.
package dedup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
	"github.com/JakeFAU/scholarship-crawler/internal/storage"
)

// DefaultKey is the blob path of the known-hash snapshot.
const DefaultKey = "state/known_hashes.json"

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store is the persisted set of known hashes. It is safe for concurrent use.
// The whole set is rewritten on Flush; there is no incremental log.
type Store struct {
	blobs  scholarship.BlobStore
	key    string
	logger *zap.Logger

	mu     sync.RWMutex
	hashes map[string]struct{}
	dirty  bool
}

// Open loads the snapshot at key. A missing snapshot yields an empty set.
func Open(ctx context.Context, blobs scholarship.BlobStore, key string, logger *zap.Logger) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		blobs:  blobs,
		key:    key,
		logger: logger.Named("dedup"),
		hashes: make(map[string]struct{}),
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory set with the persisted snapshot.
func (s *Store) Reload(ctx context.Context) error {
	data, err := s.blobs.GetObject(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		s.mu.Lock()
		s.hashes = make(map[string]struct{})
		s.dirty = false
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load known hashes: %w", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode known hashes: %w", err)
	}
	hashes := make(map[string]struct{}, len(list))
	for _, h := range list {
		hashes[h] = struct{}{}
	}
	s.mu.Lock()
	s.hashes = hashes
	s.dirty = false
	s.mu.Unlock()
	s.logger.Debug("known hashes loaded", zap.Int("count", len(hashes)))
	return nil
}

// Contains reports whether hash has been processed.
func (s *Store) Contains(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hashes[hash]
	return ok
}

// Add records hash as processed. The change is persisted by Flush.
func (s *Store) Add(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[hash]; ok {
		return
	}
	s.hashes[hash] = struct{}{}
	s.dirty = true
}

// Len returns the number of known hashes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes)
}

// Flush writes the set as a sorted JSON array. Equal sets produce equal bytes.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	data, err := encode(s.hashes)
	if err != nil {
		return err
	}
	if _, err := s.blobs.PutObject(ctx, s.key, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write known hashes: %w", err)
	}
	s.dirty = false
	s.logger.Debug("known hashes flushed", zap.Int("count", len(s.hashes)))
	return nil
}

func encode(hashes map[string]struct{}) ([]byte, error) {
	list := make([]string, 0, len(hashes))
	for h := range hashes {
		list = append(list, h)
	}
	slices.Sort(list)
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode known hashes: %w", err)
	}
	return data, nil
}
