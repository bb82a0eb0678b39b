package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/config"
	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
	"github.com/JakeFAU/scholarship-crawler/internal/retrieval"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Crawler runs refreshes and serves the last batch.
type Crawler interface {
	Refresh(ctx context.Context, keyword string) (scholarship.RefreshSummary, error)
	Notices() []scholarship.Notice
	Attachment(noticeID, attachmentID int) (scholarship.Notice, scholarship.Attachment, error)
}

// Answerer resolves natural-language questions.
type Answerer interface {
	Answer(ctx context.Context, question string) (retrieval.AnswerPayload, error)
}

// Server wires HTTP handlers to the pipeline, router and stores.
type Server struct {
	router  chi.Router
	crawler Crawler
	answers Answerer
	records scholarship.RecordStore
	tasks   scholarship.TaskStore
	clock   scholarship.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	crawler Crawler,
	answers Answerer,
	records scholarship.RecordStore,
	tasks scholarship.TaskStore,
	clock scholarship.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawler: crawler,
		answers: answers,
		records: records,
		tasks:   tasks,
		clock:   clock,
		logger:  logger.Named("api"),
	}
	timeout := time.Duration(cfg.Server.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/notices", func(r chi.Router) {
			r.Post("/refresh", s.refresh)
			r.Get("/", s.listNotices)
			r.Get("/{notice_id}/{attach_id}", s.getAttachment)
		})
		r.Post("/ask", s.ask)
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.listDocuments)
			r.Get("/titles", s.documentTitles)
			r.Get("/filter", s.filterDocuments)
			r.Get("/{document_id}", s.getDocument)
		})
		r.Get("/index/tasks/{task_id}", s.getTask)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	summary, err := s.crawler.Refresh(r.Context(), r.URL.Query().Get("keyword"))
	if err != nil {
		s.logger.Error("refresh failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "failure", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type noticeSummary struct {
	ID          int                 `json:"id"`
	Title       string              `json:"title"`
	URL         string              `json:"url"`
	Attachments []attachmentSummary `json:"attachments"`
}

type attachmentSummary struct {
	ID         int      `json:"id"`
	FileName   string   `json:"file_name"`
	URL        string   `json:"url"`
	Hash       string   `json:"hash"`
	AlertRules []string `json:"alert_rules"`
}

func (s *Server) listNotices(w http.ResponseWriter, _ *http.Request) {
	notices := s.crawler.Notices()
	out := make([]noticeSummary, 0, len(notices))
	for _, n := range notices {
		ns := noticeSummary{ID: n.ID, Title: n.Title, URL: n.URL, Attachments: []attachmentSummary{}}
		for _, a := range n.Attachments {
			ns.Attachments = append(ns.Attachments, attachmentSummary{
				ID:         a.ID,
				FileName:   a.FileName,
				URL:        a.URL,
				Hash:       a.Hash,
				AlertRules: a.AlertRules,
			})
		}
		out = append(out, ns)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": out})
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) {
	noticeID, err1 := strconv.Atoi(chi.URLParam(r, "notice_id"))
	attachID, err2 := strconv.Atoi(chi.URLParam(r, "attach_id"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "notice and attachment ids must be integers")
		return
	}
	notice, att, err := s.crawler.Attachment(noticeID, attachID)
	if err != nil {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notice_id":    notice.ID,
		"notice_title": notice.Title,
		"attachment":   att,
	})
}

type askRequest struct {
	Question string `json:"question" validate:"required,min=1,max=1000"`
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[askRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	payload, err := s.answers.Answer(r.Context(), req.Question)
	if err != nil {
		s.logger.Error("answer failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not answer question")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.List(r.Context())
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	for i := range records {
		records[i].Content = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": records})
}

type documentTitle struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Link  string `json:"link"`
}

func (s *Server) documentTitles(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.List(r.Context())
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": titles(records)})
}

func (s *Server) filterDocuments(w http.ResponseWriter, r *http.Request) {
	pred, err := s.parsePredicate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.records.Filter(r.Context(), pred)
	if err != nil {
		s.logger.Error("filter records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to filter documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": titles(records)})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "document_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "document id must be an integer")
		return
	}
	record, err := s.records.Get(r.Context(), id)
	if errors.Is(err, scholarship.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("get record failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch document")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// parsePredicate reads gpa (alias min_gpa), grade, status and active_on.
// active_on=today uses the server clock.
func (s *Server) parsePredicate(r *http.Request) (scholarship.Predicate, error) {
	q := r.URL.Query()
	var pred scholarship.Predicate
	rawGPA := q.Get("gpa")
	if rawGPA == "" {
		rawGPA = q.Get("min_gpa")
	}
	if rawGPA != "" {
		v, ok := scholarship.ParseDecimal(rawGPA)
		if !ok || !scholarship.ValidGPA(v) {
			return pred, fmt.Errorf("gpa must be a number between %.1f and %.1f", scholarship.MinGPA, scholarship.MaxGPA)
		}
		pred.GPA = &v
	}
	if raw := q.Get("grade"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < scholarship.MinGrade || v > scholarship.MaxGrade {
			return pred, fmt.Errorf("grade must be an integer between %d and %d", scholarship.MinGrade, scholarship.MaxGrade)
		}
		pred.Grade = &v
	}
	if raw := q.Get("status"); raw != "" {
		st, ok := scholarship.ParseEnrollmentStatus(raw)
		if !ok {
			return pred, errors.New("status must be enrolled or leave_of_absence")
		}
		pred.Status = &st
	}
	switch raw := q.Get("active_on"); raw {
	case "":
	case "today":
		day := scholarship.DateOf(s.clock.Now())
		pred.ActiveOn = &day
	default:
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return pred, errors.New("active_on must be YYYY-MM-DD")
		}
		pred.ActiveOn = &day
	}
	return pred, nil
}

func titles(records []scholarship.Record) []documentTitle {
	out := make([]documentTitle, 0, len(records))
	for _, rec := range records {
		out = append(out, documentTitle{ID: rec.ID, Title: rec.Title, Link: rec.Link})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
