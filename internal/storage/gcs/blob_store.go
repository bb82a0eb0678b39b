// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"

	"github.com/JakeFAU/scholarship-crawler/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket. Object writes are
// only visible once the writer closes successfully.
type BlobStore struct {
	client *gstorage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *gstorage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	name, err := s.objectName(path)
	if err != nil {
		return "", err
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// GetObject downloads the object at path.
func (s *BlobStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	name, err := s.objectName(path)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *BlobStore) objectName(path string) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if s.prefix == "" {
		return path, nil
	}
	return s.prefix + "/" + path, nil
}
