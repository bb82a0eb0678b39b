package scholarship

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when a notice, attachment, record or task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by Dequeue once the queue has been closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// Registry is the in-memory notice store of one crawl batch.
// IDs are sequential per batch, starting at 1.
type Registry struct {
	mu           sync.RWMutex
	notices      []*Notice
	byURL        map[string]*Notice
	attachmentID int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byURL: make(map[string]*Notice)}
}

// AddNotice registers a listing entry, returning the existing notice if its URL was already seen.
func (r *Registry) AddNotice(title, url string) *Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.byURL[url]; ok {
		return n
	}
	n := &Notice{ID: len(r.notices) + 1, Title: title, URL: url}
	r.notices = append(r.notices, n)
	r.byURL[url] = n
	return n
}

// AddAttachment appends an attachment to its notice and assigns its batch-wide ID.
func (r *Registry) AddAttachment(n *Notice, a Attachment) *Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachmentID++
	a.ID = r.attachmentID
	a.NoticeID = n.ID
	stored := &a
	n.Attachments = append(n.Attachments, stored)
	return stored
}

// Notices returns a snapshot of the batch in listing order.
func (r *Registry) Notices() []Notice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Notice, 0, len(r.notices))
	for _, n := range r.notices {
		cp := *n
		cp.Attachments = make([]*Attachment, len(n.Attachments))
		for i, a := range n.Attachments {
			ac := *a
			ac.AlertRules = append([]string(nil), a.AlertRules...)
			cp.Attachments[i] = &ac
		}
		out = append(out, cp)
	}
	return out
}

// Attachment looks up an attachment by notice and attachment ID.
func (r *Registry) Attachment(noticeID, attachmentID int) (Notice, Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if noticeID < 1 || noticeID > len(r.notices) {
		return Notice{}, Attachment{}, ErrNotFound
	}
	n := r.notices[noticeID-1]
	for _, a := range n.Attachments {
		if a.ID == attachmentID {
			return Notice{ID: n.ID, Title: n.Title, URL: n.URL}, *a, nil
		}
	}
	return Notice{}, Attachment{}, ErrNotFound
}

// Len returns the number of notices in the batch.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notices)
}
