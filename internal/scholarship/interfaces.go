// Package scholarship holds the domain types and collaborator contracts of the
// notice crawl, extraction and retrieval pipeline.
package scholarship

import (
	"context"
	"io"
	"time"
)

// Fetcher performs the page and binary downloads of a crawl.
type Fetcher interface {
	Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
	Post(ctx context.Context, url string, form map[string]string, timeout time.Duration) ([]byte, error)
}

// Converter turns attachment bytes into HTML and plain text.
type Converter interface {
	Convert(ctx context.Context, fileName string, raw []byte) (ConvertResult, error)
}

// ConvertResult is the derived representation of an attachment.
type ConvertResult struct {
	HTML string
	Text string
}

// Extractor pulls eligibility fields out of plain text.
type Extractor interface {
	Extract(ctx context.Context, text string) (Fields, error)
}

// Completer sends a prompt to a language model and returns a single completion.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Embedder produces vectors for passages and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// HashSet is the persisted set of processed attachment hashes.
type HashSet interface {
	Contains(hash string) bool
	Add(hash string)
	Len() int
	Flush(ctx context.Context) error
	Reload(ctx context.Context) error
}

// RecordStore persists eligibility records.
type RecordStore interface {
	Create(ctx context.Context, record Record) (Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	GetByHash(ctx context.Context, hash string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Update(ctx context.Context, record Record) error
	Filter(ctx context.Context, pred Predicate) ([]Record, error)
	Close() error
}

// BlobStore persists opaque objects.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes payloads to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Indexer appends attachment text to the vector index and searches it.
type Indexer interface {
	Index(ctx context.Context, sources []IndexSource) (int, error)
	Search(ctx context.Context, query string, k int) ([]SearchHit, error)
}

// IndexChecker reports whether an attachment hash already has chunks in the index.
type IndexChecker interface {
	Contains(hash string) bool
}

// TaskSubmitter schedules index work without waiting for it.
type TaskSubmitter interface {
	Submit(ctx context.Context, sources []IndexSource) (IndexTask, error)
}

// TaskStore tracks index task state.
type TaskStore interface {
	CreateTask(ctx context.Context, task IndexTask) error
	UpdateTask(ctx context.Context, id string, update func(*IndexTask)) error
	GetTask(ctx context.Context, id string) (IndexTask, error)
}

// Queue moves index jobs to workers.
type Queue interface {
	Enqueue(ctx context.Context, job IndexJob) error
	Dequeue(ctx context.Context) (IndexJob, error)
	Close()
}

// AlertMatcher names the alert rules whose keywords occur in a text.
type AlertMatcher interface {
	Match(text string) []string
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
