// Package pipeline runs the crawl, dedupe, convert, extract and persist cycle
// for the scholarship board and hands new attachment text to the index queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// EventRecordCreated is the topic of the event published per persisted record.
const EventRecordCreated = "record.created"

// Config describes the board being crawled and the per-request budgets.
type Config struct {
	BaseURL           string
	ListPath          string
	CategorySeq       string
	Keyword           string
	MaxPages          int
	MaxNotices        int
	ListingTimeout    time.Duration
	DetailTimeout     time.Duration
	AttachmentTimeout time.Duration
}

// Deps are the collaborators of a crawl. Blobs, Publisher, Alerts, Tasks and
// Indexed are optional; without Indexed known attachments are never resubmitted.
type Deps struct {
	Fetcher   scholarship.Fetcher
	Converter scholarship.Converter
	Extractor scholarship.Extractor
	Records   scholarship.RecordStore
	Hashes    scholarship.HashSet
	Blobs     scholarship.BlobStore
	Publisher scholarship.Publisher
	Alerts    scholarship.AlertMatcher
	Tasks     scholarship.TaskSubmitter
	Indexed   scholarship.IndexChecker
	Clock     scholarship.Clock
}

// Pipeline serializes crawl sessions and keeps the registry of the last
// completed batch readable between crawls.
type Pipeline struct {
	cfg     Config
	deps    Deps
	listURL string
	logger  *zap.Logger

	mu sync.Mutex

	lastMu sync.RWMutex
	last   *scholarship.Registry
}

// New validates cfg and deps and returns a Pipeline.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Converter == nil || deps.Extractor == nil {
		return nil, errors.New("fetcher, converter and extractor are required")
	}
	if deps.Records == nil || deps.Hashes == nil {
		return nil, errors.New("record store and hash set are required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	listURL, err := joinURL(cfg.BaseURL, cfg.ListPath)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.ListingTimeout <= 0 {
		cfg.ListingTimeout = 15 * time.Second
	}
	if cfg.DetailTimeout <= 0 {
		cfg.DetailTimeout = cfg.ListingTimeout
	}
	if cfg.AttachmentTimeout <= 0 {
		cfg.AttachmentTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		listURL: listURL,
		logger:  logger.Named("pipeline"),
		last:    scholarship.NewRegistry(),
	}, nil
}

// Refresh runs one full crawl for keyword (the configured keyword when empty),
// flushes the known-hash set and submits the batch's new text for indexing
// without waiting for it. Concurrent calls block until the running one ends.
func (p *Pipeline) Refresh(ctx context.Context, keyword string) (scholarship.RefreshSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.deps.Clock.Now()
	defer func() { metrics.ObserveRefresh(p.deps.Clock.Now().Sub(start)) }()

	session, err := p.Open(ctx, keyword)
	if err != nil {
		return scholarship.RefreshSummary{Status: "failure", Keyword: keyword}, err
	}
	runErr := session.Run(ctx)
	closeErr := session.Close(context.WithoutCancel(ctx))
	summary := session.Summary()
	// Sources are submitted even when the run failed: their hashes are already known.
	summary.IndexTaskID = p.submit(ctx, session.Sources())
	if err := errors.Join(runErr, closeErr); err != nil {
		summary.Status = "failure"
		p.logger.Warn("refresh failed",
			zap.String("keyword", summary.Keyword),
			zap.Int("records", summary.Records),
			zap.String("index_task_id", summary.IndexTaskID),
			zap.Error(err))
		return summary, err
	}

	p.lastMu.Lock()
	p.last = session.registry
	p.lastMu.Unlock()

	summary.Status = "success"
	p.logger.Info("refresh finished",
		zap.String("keyword", summary.Keyword),
		zap.Int("notices", summary.Notices),
		zap.Int("attachments", summary.Attachments),
		zap.Int("records", summary.Records),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("reindexed", summary.Reindexed),
		zap.String("index_task_id", summary.IndexTaskID))
	return summary, nil
}

// submit hands sources to the index queue and returns the task id, or "" when
// there is nothing to index or the submit failed.
func (p *Pipeline) submit(ctx context.Context, sources []scholarship.IndexSource) string {
	if len(sources) == 0 || p.deps.Tasks == nil {
		return ""
	}
	task, err := p.deps.Tasks.Submit(context.WithoutCancel(ctx), sources)
	if err != nil {
		p.logger.Error("submit index task failed", zap.Int("sources", len(sources)), zap.Error(err))
		return ""
	}
	return task.ID
}

// Notices returns the notices of the last completed batch.
func (p *Pipeline) Notices() []scholarship.Notice {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last.Notices()
}

// Attachment looks up one attachment of the last completed batch.
func (p *Pipeline) Attachment(noticeID, attachmentID int) (scholarship.Notice, scholarship.Attachment, error) {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last.Attachment(noticeID, attachmentID)
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q", base)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid list path %q: %w", path, err)
	}
	return u.ResolveReference(ref).String(), nil
}
