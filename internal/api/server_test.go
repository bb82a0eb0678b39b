package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/config"
	recmem "github.com/JakeFAU/scholarship-crawler/internal/records/memory"
	"github.com/JakeFAU/scholarship-crawler/internal/retrieval"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
	storemem "github.com/JakeFAU/scholarship-crawler/internal/storage/memory"
)

type fakeCrawler struct {
	summary  scholarship.RefreshSummary
	err      error
	keyword  string
	registry *scholarship.Registry
}

func (f *fakeCrawler) Refresh(_ context.Context, keyword string) (scholarship.RefreshSummary, error) {
	f.keyword = keyword
	return f.summary, f.err
}

func (f *fakeCrawler) Notices() []scholarship.Notice { return f.registry.Notices() }

func (f *fakeCrawler) Attachment(noticeID, attachmentID int) (scholarship.Notice, scholarship.Attachment, error) {
	return f.registry.Attachment(noticeID, attachmentID)
}

type fakeAnswerer struct {
	payload  retrieval.AnswerPayload
	err      error
	question string
}

func (f *fakeAnswerer) Answer(_ context.Context, question string) (retrieval.AnswerPayload, error) {
	f.question = question
	return f.payload, f.err
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type testServer struct {
	server  *Server
	crawler *fakeCrawler
	answers *fakeAnswerer
	records *recmem.Store
	tasks   *storemem.TaskStore
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()

	registry := scholarship.NewRegistry()
	notice := registry.AddNotice("2025 merit scholarship", "https://board/n/3")
	registry.AddAttachment(notice, scholarship.Attachment{
		FileName: "guide.pdf", URL: "https://board/d/guide", Hash: "abc", Text: "guide text", AlertRules: []string{"merit"},
	})

	ts := &testServer{
		crawler: &fakeCrawler{registry: registry},
		answers: &fakeAnswerer{},
		records: recmem.New(),
		tasks:   storemem.NewTaskStore(),
	}
	gpa, grade := 3.0, 2
	_, err := ts.records.Create(context.Background(), scholarship.Record{
		Title: "merit", Link: "https://board/d/guide", Content: "long text",
		Fields: scholarship.Fields{MinGPA: &gpa, Grade: &grade},
	})
	require.NoError(t, err)
	_, err = ts.records.Create(context.Background(), scholarship.Record{Title: "open", Link: "https://board/d/open"})
	require.NoError(t, err)

	clock := fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	ts.server = NewServer(ts.crawler, ts.answers, ts.records, ts.tasks, clock, cfg, zap.NewNop())
	return ts
}

func (ts *testServer) do(method, target string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := newTestServer(t, config.Config{}).do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	ts.do(http.MethodGet, "/healthz", "")
	rec := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_Refresh(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	ts.crawler.summary = scholarship.RefreshSummary{Status: "success", Keyword: "장학", Notices: 2, Records: 1, IndexTaskID: "task-1"}

	rec := ts.do(http.MethodPost, "/v1/notices/refresh?keyword=%EC%9E%A5%ED%95%99", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "장학", ts.crawler.keyword)
	got := decode[scholarship.RefreshSummary](t, rec)
	assert.Equal(t, ts.crawler.summary, got)
}

func TestServer_RefreshFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	ts.crawler.err = errors.New("fetch listing page 1: 503")

	rec := ts.do(http.MethodPost, "/v1/notices/refresh", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	got := decode[map[string]string](t, rec)
	assert.Equal(t, "failure", got["status"])
	assert.Contains(t, got["error"], "503")
}

func TestServer_Notices(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	rec := ts.do(http.MethodGet, "/v1/notices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Notices []noticeSummary `json:"notices"`
	}](t, rec)
	require.Len(t, got.Notices, 1)
	require.Len(t, got.Notices[0].Attachments, 1)
	assert.Equal(t, []string{"merit"}, got.Notices[0].Attachments[0].AlertRules)
	assert.NotContains(t, rec.Body.String(), "guide text")

	rec = ts.do(http.MethodGet, "/v1/notices/1/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "guide text")

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/v1/notices/1/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/notices/x/1", "").Code)
}

func TestServer_Ask(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	ts.answers.payload = retrieval.AnswerPayload{
		Source:  retrieval.SourceSemantic,
		Results: []retrieval.Result{{Title: "A", FileName: "a.pdf", URL: "https://board/a"}},
	}

	rec := ts.do(http.MethodPost, "/v1/ask", `{"question":"GPA 3.5 장학금?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GPA 3.5 장학금?", ts.answers.question)
	got := decode[retrieval.AnswerPayload](t, rec)
	assert.Equal(t, ts.answers.payload, got)
}

func TestServer_AskValidation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	for name, body := range map[string]string{
		"empty body":    "",
		"invalid json":  "{invalid",
		"missing":       `{}`,
		"blank":         `{"question":"   "}`,
		"unknown field": `{"question":"hi","top_k":3}`,
		"too long":      `{"question":"` + strings.Repeat("장", 1001) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/v1/ask", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := ts.do(http.MethodPost, "/v1/ask", `{"question":"`+strings.Repeat("장", 1000)+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_AskFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	ts.answers.err = errors.New("vector search: index unreadable")
	rec := ts.do(http.MethodPost, "/v1/ask", `{"question":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "index unreadable")
}

func TestServer_Documents(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})

	rec := ts.do(http.MethodGet, "/v1/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "long text")
	assert.Contains(t, rec.Body.String(), `"min_gpa":3`)

	rec = ts.do(http.MethodGet, "/v1/documents/titles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	titles := decode[struct {
		Documents []documentTitle `json:"documents"`
	}](t, rec)
	assert.Len(t, titles.Documents, 2)

	rec = ts.do(http.MethodGet, "/v1/documents/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "long text")

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/v1/documents/42", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/documents/abc", "").Code)
}

func TestServer_FilterDocuments(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	cases := []struct {
		query string
		code  int
		count int
	}{
		{query: "gpa=3.5", code: http.StatusOK, count: 1},
		{query: "min_gpa=2.5", code: http.StatusOK, count: 0},
		{query: "grade=2&status=", code: http.StatusOK, count: 1},
		{query: "status=재학", code: http.StatusOK, count: 0},
		{query: "active_on=today", code: http.StatusOK, count: 2},
		{query: "", code: http.StatusOK, count: 2},
		{query: "gpa=5", code: http.StatusBadRequest},
		{query: "gpa=NaN", code: http.StatusBadRequest},
		{query: "gpa=0x1p1", code: http.StatusBadRequest},
		{query: "grade=first", code: http.StatusBadRequest},
		{query: "status=alumni", code: http.StatusBadRequest},
		{query: "active_on=03/10/2025", code: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			rec := ts.do(http.MethodGet, "/v1/documents/filter?"+tc.query, "")
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
			if tc.code != http.StatusOK {
				return
			}
			got := decode[struct {
				Documents []documentTitle `json:"documents"`
			}](t, rec)
			assert.Len(t, got.Documents, tc.count)
		})
	}
}

func TestServer_Tasks(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	require.NoError(t, ts.tasks.CreateTask(context.Background(), scholarship.IndexTask{
		ID: "task-1", Status: scholarship.TaskQueued, Sources: 3,
	}))

	rec := ts.do(http.MethodGet, "/v1/index/tasks/task-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[scholarship.IndexTask](t, rec)
	assert.Equal(t, scholarship.TaskQueued, got.Status)
	assert.Equal(t, 3, got.Sources)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/v1/index/tasks/missing", "").Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/v1/documents", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/documents?api_key=secret", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/notices", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	ts.server.crawler = nil

	rec := ts.do(http.MethodGet, "/v1/notices", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
