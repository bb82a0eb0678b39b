package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient() *Client {
	return New(Config{
		UserAgent: "test-agent",
		Retry:     RetryPolicy{MaxRetries: 2, Initial: time.Millisecond, Multiplier: 1.5},
	}, zap.NewNop())
}

func TestClientGetReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.UserAgent())
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	body, err := newTestClient().Get(context.Background(), srv.URL, time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestClientPostSendsForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		_, _ = w.Write([]byte(r.PostForm.Get("srchWrd")))
	}))
	defer srv.Close()

	body, err := newTestClient().Post(context.Background(), srv.URL, map[string]string{"srchWrd": "장학"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "장학", string(body))
}

func TestClientPostRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient().Post(context.Background(), srv.URL, map[string]string{"a": "b"}, time.Second)
	require.ErrorIs(t, err, ErrTransientServer)
	require.EqualValues(t, 3, calls.Load(), "one attempt plus two retries")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestClientPostRecoversAfterTransientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := newTestClient().Post(context.Background(), srv.URL, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.EqualValues(t, 2, calls.Load())
}

func TestClientDoesNotRetryClientErrorsOrGets(t *testing.T) {
	t.Parallel()

	var posts, gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gets.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient()
	_, err := client.Post(context.Background(), srv.URL, nil, time.Second)
	require.ErrorIs(t, err, ErrClient)
	require.EqualValues(t, 1, posts.Load())

	_, err = client.Get(context.Background(), srv.URL, time.Second)
	require.ErrorIs(t, err, ErrTransientServer)
	require.EqualValues(t, 1, gets.Load())
}

func TestClientGetTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient().Get(context.Background(), srv.URL, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrReadTimeout)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.NoError(t, Classify("u", http.StatusOK, nil))
	require.ErrorIs(t, Classify("u", http.StatusGatewayTimeout, nil), ErrTransientServer)
	require.ErrorIs(t, Classify("u", http.StatusForbidden, nil), ErrClient)
	require.ErrorIs(t, Classify("u", 0, context.DeadlineExceeded), ErrReadTimeout)
	require.ErrorIs(t, Classify("u", 0, context.DeadlineExceeded), context.DeadlineExceeded)

	plain := Classify("u", 0, errors.New("connection refused"))
	require.Error(t, plain)
	require.False(t, IsRetryable(plain))
}
