package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholarship-crawler/internal/config"
)

func testConfig(t *testing.T, boardURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.BaseURL = boardURL
	cfg.Crawler.ListPath = "/list.do"
	cfg.HTTP.RateLimitRPS = 0
	cfg.HTTP.MaxRetries = 0
	cfg.LLM.Provider = "ollama"
	cfg.LLM.BaseURL = "http://127.0.0.1:1"
	cfg.Index.Dir = filepath.Join(dir, "index")
	cfg.Storage.Backend = "local"
	cfg.Storage.BaseDir = filepath.Join(dir, "blobs")
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(dir, "records.db")
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Alerts.Rules = []config.AlertRule{{Name: "merit", Keywords: []string{"성적"}}}
	return &cfg
}

func TestBuildWiresHandlers(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t, "http://127.0.0.1:1"))
	require.NoError(t, err)
	t.Cleanup(app.Close)

	for _, path := range []string{"/healthz", "/metrics", "/v1/notices/", "/v1/documents/"} {
		rec := httptest.NewRecorder()
		app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuildRejectsBadBackends(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "postgres://%zz"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "postgres record store init failed")

	cfg = testConfig(t, "http://127.0.0.1:1")
	cfg.Alerts.Rules = []config.AlertRule{{Name: "empty"}}
	_, err = Build(context.Background(), cfg)
	require.ErrorContains(t, err, "alert rules init failed")
}

func TestRefreshOnEmptyBoard(t *testing.T) {
	board := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><table class="board-table"><tbody></tbody></table></body></html>`))
	}))
	t.Cleanup(board.Close)

	app, err := Build(context.Background(), testConfig(t, board.URL))
	require.NoError(t, err)
	t.Cleanup(app.Close)

	summary, err := app.Refresh(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "success", summary.Status)
	assert.Equal(t, "장학", summary.Keyword)
	assert.Zero(t, summary.Notices)
	assert.Empty(t, summary.IndexTaskID)

	_, err = app.WaitTask(context.Background(), "missing")
	require.Error(t, err)
}
