package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/scholarship-crawler/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/notice.pdf", "application/pdf", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/notice.pdf" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'

	stored, err := store.GetObject(context.Background(), "path/notice.pdf")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	stored[0] = 'X'
	again, _ := store.GetObject(context.Background(), "path/notice.pdf")
	if string(again) != "content" {
		t.Fatalf("GetObject must return a copy, got %q", again)
	}
}

func TestBlobStoreGetObjectMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.GetObject(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}
