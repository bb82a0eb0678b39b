package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	event := scholarship.RecordEvent{Type: "record.created", RecordID: 7, AlertRules: []string{"gpa"}}
	id1, err := pub.Publish(context.Background(), "record.created", event)
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "other", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	var decoded scholarship.RecordEvent
	if err := json.Unmarshal(msgs[0].Data, &decoded); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if decoded.RecordID != 7 || decoded.AlertRules[0] != "gpa" {
		t.Fatalf("event not encoded correctly: %+v", decoded)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("broker down"))
	if _, err := pub.Publish(context.Background(), "t", 1); err == nil {
		t.Fatal("expected injected error")
	}
	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "t", 1); err != nil {
		t.Fatalf("unexpected error after clearing: %v", err)
	}
	if len(pub.Messages()) != 1 {
		t.Fatalf("failed publish must not be recorded")
	}
}
