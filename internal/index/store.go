// Package index keeps the vector index of attachment chunks in one directory
// and answers nearest-neighbour queries over it.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Config controls chunking, embedding batches and the index location.
type Config struct {
	Dir          string
	ChunkSize    int
	ChunkOverlap int
	EmbedBatch   int
}

// Store is a load-or-append vector index. Entries and vectors are aligned by
// position and only ever appended. Attachments are identified by hash.
type Store struct {
	cfg      Config
	embedder scholarship.Embedder
	logger   *zap.Logger

	// writeMu serialises Index calls; mu guards the slices.
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries []scholarship.Chunk
	vectors [][]float32
	dim     int
	hashes  map[string]struct{}
}

var _ scholarship.Indexer = (*Store)(nil)

// Open loads the index in cfg.Dir, creating the directory when needed.
func Open(cfg Config, embedder scholarship.Embedder, logger *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("index directory is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1500
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 200
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	entries, vectors, dim, err := load(cfg.Dir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		cfg:      cfg,
		embedder: embedder,
		logger:   logger.Named("index"),
		entries:  entries,
		vectors:  vectors,
		dim:      dim,
		hashes:   make(map[string]struct{}),
	}
	for _, e := range entries {
		s.hashes[e.Metadata.Hash] = struct{}{}
	}
	s.logger.Info("vector index loaded", zap.String("dir", cfg.Dir), zap.Int("chunks", len(entries)))
	return s, nil
}

// Len returns the number of indexed chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Contains reports whether chunks for the attachment hash are indexed.
func (s *Store) Contains(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hashes[hash]
	return ok
}

// Index chunks and embeds the sources whose hash is not indexed yet, appends
// them and saves the directory. It returns the number of chunks added.
func (s *Store) Index(ctx context.Context, sources []scholarship.IndexSource) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var pending []scholarship.Chunk
	seen := make(map[string]struct{})
	for _, src := range sources {
		hash := src.Metadata.Hash
		if _, dup := seen[hash]; dup || s.Contains(hash) {
			continue
		}
		seen[hash] = struct{}{}
		for _, text := range Split(src.Text, s.cfg.ChunkSize, s.cfg.ChunkOverlap) {
			pending = append(pending, scholarship.Chunk{Text: text, Metadata: src.Metadata})
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, 0, len(pending))
	for batch := range slices.Chunk(pending, s.cfg.EmbedBatch) {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		embedded, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed chunks: %w", err)
		}
		if len(embedded) != len(texts) {
			return 0, fmt.Errorf("embed chunks: got %d vectors for %d texts", len(embedded), len(texts))
		}
		vectors = append(vectors, embedded...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dim := s.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("embed chunks: vector %d has dimension %d, index uses %d", i, len(v), dim)
		}
	}
	entries := append(slices.Clip(s.entries), pending...)
	allVectors := append(slices.Clip(s.vectors), vectors...)
	if err := save(s.cfg.Dir, entries, allVectors, dim); err != nil {
		return 0, fmt.Errorf("save index: %w", err)
	}
	s.entries, s.vectors, s.dim = entries, allVectors, dim
	for hash := range seen {
		s.hashes[hash] = struct{}{}
	}
	metrics.ObserveIndexChunks(len(pending))
	s.logger.Info("index updated", zap.Int("added", len(pending)), zap.Int("total", len(entries)))
	return len(pending), nil
}

// Search embeds query and returns the k most similar chunks. Equal scores keep
// insertion order.
func (s *Store) Search(ctx context.Context, query string, k int) ([]scholarship.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.Len() == 0 {
		return nil, nil
	}
	q, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(q) != s.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(q), s.dim)
	}
	hits := make([]scholarship.SearchHit, len(s.entries))
	for i, e := range s.entries {
		hits[i] = scholarship.SearchHit{Chunk: e, Score: cosine(q, s.vectors[i])}
	}
	slices.SortStableFunc(hits, func(a, b scholarship.SearchHit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
