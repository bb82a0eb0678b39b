package convert

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/fetch"
)

var pdfBytes = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")

func testConfig(url string) Config {
	return Config{
		URL:            url,
		APIKey:         "secret",
		ReadTimeout:    2 * time.Second,
		ConnectTimeout: time.Second,
		Retry:          fetch.RetryPolicy{MaxRetries: 2, Initial: time.Millisecond, Multiplier: 1.5},
	}
}

func TestConvertAssemblesSegments(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "document-parse", r.FormValue("model"))
		file, header, err := r.FormFile("document")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "요강.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		body, _ := io.ReadAll(file)
		assert.Equal(t, pdfBytes, body)

		_, _ = fmt.Fprint(w, `{"elements":[
			{"content":{"html":"<h1>장학생   선발</h1>"}},
			{"category":"figure"},
			{"content":{"markdown":"ignored"}},
			{"content":{"html":"<table><tr><td>평점</td><td>3.5</td></tr></table><script>alert(1)</script>"}}
		]}`)
	}))
	defer srv.Close()

	conv := New(testConfig(srv.URL), zap.NewNop())
	got, err := conv.Convert(context.Background(), "요강.pdf", pdfBytes)
	require.NoError(t, err)

	assert.Equal(t, "장학생 선발\n평점 3.5", got.Text)
	assert.Contains(t, got.HTML, "<h1>장학생   선발</h1>\n<table>")
	assert.NotContains(t, got.HTML, "<script>")
}

func TestConvertEmptyElementsUsesPlaceholders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"elements":[]}`)
	}))
	defer srv.Close()

	got, err := New(testConfig(srv.URL), nil).Convert(context.Background(), "a.pdf", pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, EmptyHTML, got.HTML)
	assert.Equal(t, EmptyText, got.Text)
}

func TestConvertRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, `{"elements":[{"content":{"html":"<p>ok</p>"}}]}`)
	}))
	defer srv.Close()

	got, err := New(testConfig(srv.URL), nil).Convert(context.Background(), "a.pdf", pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestConvertRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantKind  error
		wantCalls int32
	}{
		{name: "client error", status: http.StatusBadRequest, wantKind: fetch.ErrClient, wantCalls: 1},
		{name: "server error exhausts retries", status: http.StatusServiceUnavailable, wantKind: fetch.ErrTransientServer, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := New(testConfig(srv.URL), nil).Convert(context.Background(), "a.pdf", pdfBytes)
			require.ErrorIs(t, err, ErrConversionRejected)
			require.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestConvertBadJSONIsRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL), nil).Convert(context.Background(), "a.pdf", pdfBytes)
	require.ErrorIs(t, err, ErrConversionRejected)
}

func TestConvertTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.ReadTimeout = 50 * time.Millisecond
	_, err := New(cfg, nil).Convert(context.Background(), "a.pdf", pdfBytes)
	require.ErrorIs(t, err, ErrConversionTimeout)
	require.ErrorIs(t, err, fetch.ErrReadTimeout)
}

func TestConvertUnsupportedFormat(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	conv := New(testConfig(srv.URL), nil)
	_, err := conv.Convert(context.Background(), "a.pdf", []byte("<!DOCTYPE html><html><body>not found</body></html>"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = conv.Convert(context.Background(), "a.pdf", nil)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Zero(t, calls.Load(), "unsupported bytes are never uploaded")
}

func TestContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application/x-hwp", ContentType("신청서.HWP", nil))
	assert.Equal(t, "application/x-hwp", ContentType("a.hwpx", nil))
	assert.Equal(t, "application/pdf", ContentType("a.pdf", nil))
	assert.Contains(t, ContentType("slides.pptx", nil), "presentationml")
	assert.Equal(t, "application/pdf", ContentType("noext", pdfBytes))
	assert.Equal(t, "application/octet-stream", ContentType("noext", nil))
}
