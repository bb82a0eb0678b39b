package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/convert"
	"github.com/JakeFAU/scholarship-crawler/internal/dedup"
	"github.com/JakeFAU/scholarship-crawler/internal/listing"
	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Session is the state of one crawl batch: its notice registry, counters and
// the text waiting to be indexed. Lifecycle is Open, Run, Close.
type Session struct {
	p        *Pipeline
	keyword  string
	registry *scholarship.Registry
	summary  scholarship.RefreshSummary
	sources  []scholarship.IndexSource
	queued   map[string]struct{}
	logger   *zap.Logger
}

// Open starts a batch with an empty registry and the persisted known-hash set.
func (p *Pipeline) Open(ctx context.Context, keyword string) (*Session, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		keyword = p.cfg.Keyword
	}
	if err := p.deps.Hashes.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load known hashes: %w", err)
	}
	return &Session{
		p:        p,
		keyword:  keyword,
		registry: scholarship.NewRegistry(),
		summary:  scholarship.RefreshSummary{Keyword: keyword},
		queued:   make(map[string]struct{}),
		logger:   p.logger.With(zap.String("keyword", keyword)),
	}, nil
}

// Run walks the listing pages in order. Only listing failures and
// cancellation end the run early; attachment failures are logged and counted.
func (s *Session) Run(ctx context.Context) error {
	cfg := s.p.cfg
	for page := 1; page <= cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		form := listing.Form(listing.Query{Keyword: s.keyword, CategorySeq: cfg.CategorySeq, Page: page})
		body, err := s.p.deps.Fetcher.Post(ctx, s.p.listURL, form, cfg.ListingTimeout)
		if err != nil {
			return fmt.Errorf("fetch listing page %d: %w", page, err)
		}
		links, err := listing.Notices(body, s.p.listURL)
		if err != nil {
			return fmt.Errorf("parse listing page %d: %w", page, err)
		}

		seen := 0
		for link := range links {
			seen++
			if cfg.MaxNotices > 0 && s.registry.Len() >= cfg.MaxNotices {
				s.logger.Info("notice limit reached", zap.Int("max_notices", cfg.MaxNotices))
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			before := s.registry.Len()
			notice := s.registry.AddNotice(link.Title, link.URL)
			if s.registry.Len() == before {
				continue
			}
			s.summary.Notices++
			s.processNotice(ctx, notice)
		}
		if seen == 0 {
			s.logger.Debug("empty listing page", zap.Int("page", page))
			return nil
		}
	}
	return nil
}

// Close persists the known-hash set.
func (s *Session) Close(ctx context.Context) error {
	if err := s.p.deps.Hashes.Flush(ctx); err != nil {
		return fmt.Errorf("flush known hashes: %w", err)
	}
	return nil
}

// Summary returns the batch counters.
func (s *Session) Summary() scholarship.RefreshSummary {
	return s.summary
}

// Sources returns the text of every attachment converted in this batch.
func (s *Session) Sources() []scholarship.IndexSource {
	return s.sources
}

// Registry returns the batch's notices.
func (s *Session) Registry() *scholarship.Registry {
	return s.registry
}

func (s *Session) processNotice(ctx context.Context, notice *scholarship.Notice) {
	logger := s.logger.With(zap.String("notice", notice.Title))
	body, err := s.p.deps.Fetcher.Get(ctx, notice.URL, s.p.cfg.DetailTimeout)
	if err != nil {
		logger.Warn("fetch notice detail failed", zap.String("url", notice.URL), zap.Error(err))
		return
	}
	links, err := listing.Attachments(body, notice.URL)
	if err != nil {
		logger.Warn("parse notice detail failed", zap.String("url", notice.URL), zap.Error(err))
		return
	}
	for link := range links {
		if ctx.Err() != nil {
			return
		}
		s.summary.Attachments++
		s.processAttachment(ctx, notice, link, logger.With(zap.String("file", link.FileName)))
	}
}

// processAttachment takes one attachment through dedupe, archive, conversion,
// extraction and persistence. The hash is added only once the bytes have been
// converted or deliberately skipped.
func (s *Session) processAttachment(
	ctx context.Context,
	notice *scholarship.Notice,
	link scholarship.AttachmentLink,
	logger *zap.Logger,
) {
	deps := s.p.deps
	raw, err := deps.Fetcher.Get(ctx, link.URL, s.p.cfg.AttachmentTimeout)
	if err != nil {
		s.summary.Failed++
		metrics.ObserveAttachment("failed")
		logger.Warn("download attachment failed", zap.String("url", link.URL), zap.Error(err))
		return
	}
	hash := dedup.Hash(raw)
	logger = logger.With(zap.String("hash", hash))
	if deps.Hashes.Contains(hash) {
		s.summary.Skipped++
		metrics.ObserveAttachment("duplicate")
		logger.Debug("attachment already processed")
		s.reindex(ctx, notice, link, hash, logger)
		return
	}

	archiveURI := s.archive(ctx, link.FileName, hash, raw, logger)

	converted, err := deps.Converter.Convert(ctx, link.FileName, raw)
	switch {
	case errors.Is(err, convert.ErrUnsupportedFormat):
		s.markKnown(hash)
		s.summary.Skipped++
		metrics.ObserveAttachment("skipped")
		logger.Info("attachment is not a document, skipping", zap.Error(err))
		return
	case err != nil:
		s.summary.Failed++
		metrics.ObserveAttachment("failed")
		logger.Warn("convert attachment failed", zap.Error(err))
		return
	}

	var rules []string
	if deps.Alerts != nil {
		rules = deps.Alerts.Match(converted.Text)
	}
	att := s.registry.AddAttachment(notice, scholarship.Attachment{
		FileName:   link.FileName,
		URL:        link.URL,
		Hash:       hash,
		HTML:       converted.HTML,
		Text:       converted.Text,
		AlertRules: rules,
		ArchiveURI: archiveURI,
	})
	s.markKnown(hash)
	metrics.ObserveAttachment("processed")

	fields, err := deps.Extractor.Extract(ctx, converted.Text)
	if err != nil {
		logger.Warn("extraction failed, persisting without fields", zap.Error(err))
		fields = scholarship.Fields{}
	}
	record, ok := s.persist(ctx, scholarship.Record{
		Title:    notice.Title,
		Link:     link.URL,
		FileName: link.FileName,
		Hash:     hash,
		Content:  converted.Text,
		Fields:   fields,
	}, logger)
	if ok {
		att.RecordID = record.ID
		s.summary.Records++
		s.publish(ctx, record, rules, logger)
	}

	s.queue(notice.Title, att.ID, link, hash, converted.Text)
}

// reindex queues the stored text of a known attachment whose chunks are not
// in the index, such as one whose index task ran out of attempts. Hashes
// without a stored record (deliberate skips, dropped records) are left alone.
func (s *Session) reindex(
	ctx context.Context,
	notice *scholarship.Notice,
	link scholarship.AttachmentLink,
	hash string,
	logger *zap.Logger,
) {
	indexed := s.p.deps.Indexed
	if indexed == nil || indexed.Contains(hash) {
		return
	}
	if _, ok := s.queued[hash]; ok {
		return
	}
	record, err := s.p.deps.Records.GetByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, scholarship.ErrNotFound) {
			logger.Warn("load record for reindex failed", zap.Error(err))
		}
		return
	}
	if strings.TrimSpace(record.Content) == "" {
		return
	}
	s.queue(notice.Title, 0, link, hash, record.Content)
	s.summary.Reindexed++
	metrics.ObserveAttachment("reindexed")
	logger.Info("known attachment missing from index, resubmitting", zap.Int64("record_id", record.ID))
}

func (s *Session) queue(title string, attachmentID int, link scholarship.AttachmentLink, hash, text string) {
	s.queued[hash] = struct{}{}
	s.sources = append(s.sources, scholarship.IndexSource{
		Text: text,
		Metadata: scholarship.ChunkMetadata{
			NoticeTitle:  title,
			AttachmentID: attachmentID,
			FileName:     link.FileName,
			URL:          link.URL,
			Hash:         hash,
		},
	})
}

func (s *Session) markKnown(hash string) {
	s.p.deps.Hashes.Add(hash)
	s.summary.HashesAdded++
}

// persist writes the record, retrying once with all fields null.
func (s *Session) persist(ctx context.Context, r scholarship.Record, logger *zap.Logger) (scholarship.Record, bool) {
	created, err := s.p.deps.Records.Create(ctx, r)
	if err == nil {
		metrics.ObserveRecord("created")
		return created, true
	}
	logger.Warn("persist record failed, retrying without fields", zap.Error(err))
	r.Fields = scholarship.Fields{}
	created, err = s.p.deps.Records.Create(ctx, r)
	if err == nil {
		metrics.ObserveRecord("degraded")
		return created, true
	}
	metrics.ObserveRecord("dropped")
	logger.Error("persist record failed, dropping", zap.Error(err))
	return scholarship.Record{}, false
}

func (s *Session) archive(ctx context.Context, fileName, hash string, raw []byte, logger *zap.Logger) string {
	if s.p.deps.Blobs == nil {
		return ""
	}
	key := path.Join("attachments", hash[:2], hash+strings.ToLower(path.Ext(fileName)))
	uri, err := s.p.deps.Blobs.PutObject(ctx, key, convert.ContentType(fileName, raw), bytes.NewReader(raw))
	if err != nil {
		logger.Warn("archive attachment failed", zap.Error(err))
		return ""
	}
	return uri
}

func (s *Session) publish(ctx context.Context, r scholarship.Record, rules []string, logger *zap.Logger) {
	if s.p.deps.Publisher == nil {
		return
	}
	event := scholarship.RecordEvent{
		Type:       EventRecordCreated,
		RecordID:   r.ID,
		Title:      r.Title,
		Link:       r.Link,
		FileName:   r.FileName,
		Hash:       r.Hash,
		AlertRules: rules,
	}
	if _, err := s.p.deps.Publisher.Publish(ctx, EventRecordCreated, event); err != nil {
		logger.Warn("publish record event failed", zap.Int64("record_id", r.ID), zap.Error(err))
	}
}
