// Package retrieval answers eligibility questions, first through a structured
// filter over the record store and then through vector search.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Answer sources.
const (
	SourceStructured = "structured"
	SourceSemantic   = "semantic"
)

// DefaultTopK is the number of chunks the semantic path retrieves.
const DefaultTopK = 5

// Config tunes the router.
type Config struct {
	TopK int
	// ComposeAnswer asks the model for a short answer grounded on the semantic hits.
	ComposeAnswer bool
}

// Result is one notice returned by the semantic path.
type Result struct {
	Title    string  `json:"title"`
	FileName string  `json:"file_name"`
	URL      string  `json:"url"`
	Score    float64 `json:"score"`
}

// AnswerPayload is the router's reply. Records is set for structured answers,
// Results for semantic ones.
type AnswerPayload struct {
	Source    string                 `json:"source"`
	Predicate *scholarship.Predicate `json:"predicate,omitempty"`
	Records   []scholarship.Record   `json:"records,omitempty"`
	Results   []Result               `json:"results,omitempty"`
	Summary   string                 `json:"summary,omitempty"`
}

// Router routes a question to the record filter or the vector index.
type Router struct {
	model   scholarship.Completer
	records scholarship.RecordStore
	index   scholarship.Indexer
	clock   scholarship.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Router.
func New(
	model scholarship.Completer,
	records scholarship.RecordStore,
	index scholarship.Indexer,
	clock scholarship.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Router, error) {
	if model == nil || records == nil || index == nil || clock == nil {
		return nil, errors.New("model, record store, index and clock are required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		model:   model,
		records: records,
		index:   index,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("retrieval"),
	}, nil
}

// Answer resolves question. A structured match is authoritative; without one
// the vector index is searched and hits are deduplicated by notice title.
func (r *Router) Answer(ctx context.Context, question string) (AnswerPayload, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AnswerPayload{}, errors.New("question is required")
	}

	if pred, ok := r.predicate(ctx, question); ok {
		today := scholarship.DateOf(r.clock.Now())
		pred.ActiveOn = &today
		matches, err := r.records.Filter(ctx, pred)
		switch {
		case err != nil:
			r.logger.Warn("structured filter failed, falling back to search", zap.Error(err))
		case len(matches) > 0:
			metrics.ObserveAnswer(SourceStructured)
			return AnswerPayload{Source: SourceStructured, Predicate: &pred, Records: matches}, nil
		default:
			r.logger.Debug("structured filter matched nothing", zap.Any("predicate", pred))
		}
	}

	hits, err := r.index.Search(ctx, question, r.cfg.TopK)
	if err != nil {
		return AnswerPayload{}, fmt.Errorf("vector search: %w", err)
	}
	payload := AnswerPayload{Source: SourceSemantic, Results: dedupeByTitle(hits)}
	if r.cfg.ComposeAnswer && len(hits) > 0 {
		payload.Summary = r.compose(ctx, question, hits)
	}
	metrics.ObserveAnswer(SourceSemantic)
	return payload, nil
}

// predicate runs the function-call step. Any model or parse failure means no predicate.
func (r *Router) predicate(ctx context.Context, question string) (scholarship.Predicate, bool) {
	reply, err := r.model.Complete(ctx, functionCallPrompt, question)
	if err != nil {
		r.logger.Warn("function call step failed", zap.Error(err))
		return scholarship.Predicate{}, false
	}
	pred, ok, err := ParseFunctionCall(reply)
	if err != nil {
		r.logger.Warn("unusable function call reply", zap.String("reply", reply), zap.Error(err))
		return scholarship.Predicate{}, false
	}
	return pred, ok
}

func (r *Router) compose(ctx context.Context, question string, hits []scholarship.SearchHit) string {
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, h.Metadata.NoticeTitle, h.Metadata.FileName, h.Text)
	}
	fmt.Fprintf(&b, "Question: %s", question)
	summary, err := r.model.Complete(ctx, composePrompt, b.String())
	if err != nil {
		r.logger.Warn("compose answer failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(summary)
}

func dedupeByTitle(hits []scholarship.SearchHit) []Result {
	seen := make(map[string]struct{}, len(hits))
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		title := h.Metadata.NoticeTitle
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		out = append(out, Result{
			Title:    title,
			FileName: h.Metadata.FileName,
			URL:      h.Metadata.URL,
			Score:    h.Score,
		})
	}
	return out
}

const composePrompt = `You answer questions about university scholarship notices.
Use only the numbered excerpts. Answer in the language of the question in at most
five sentences and cite notice titles. If the excerpts do not answer the question, say so.`
