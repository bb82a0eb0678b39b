// Package fetch implements the crawl's HTTP client on top of gocolly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

var _ scholarship.Fetcher = (*Client)(nil)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	RespectRobots  bool
	MaxBodyBytes   int
	DefaultTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	Retry          RetryPolicy
}

// Client issues single GET and form POST requests through a colly collector.
type Client struct {
	cfg     Config
	base    *colly.Collector
	limiter *Limiter
	logger  *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.WithTransport(newHTTPTransport())

	client := &Client{
		cfg:     cfg,
		base:    c,
		limiter: NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:  logger,
	}
	if client.cfg.Retry.Notify == nil {
		client.cfg.Retry.Notify = func(err error, wait time.Duration) {
			client.logger.Warn("retrying POST", zap.Error(err), zap.Duration("wait", wait))
		}
	}
	return client
}

// Get downloads url once. Failures are returned to the caller without retry.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil, timeout)
}

// Post submits form to url, retrying transient server errors per the retry policy.
func (c *Client) Post(ctx context.Context, url string, form map[string]string, timeout time.Duration) ([]byte, error) {
	var body []byte
	err := c.cfg.Retry.Do(ctx, func() error {
		var err error
		body, err = c.do(ctx, http.MethodPost, url, form, timeout)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

type exchange struct {
	status int
	body   []byte
	err    error
}

func (c *Client) do(
	ctx context.Context,
	method, url string,
	form map[string]string,
	timeout time.Duration,
) ([]byte, error) {
	if err := c.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	collector := c.base.Clone()
	collector.Context = ctx
	collector.SetRequestTimeout(timeout)

	var ex exchange
	collector.OnResponse(func(r *colly.Response) {
		ex.status = r.StatusCode
		ex.body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			ex.status = r.StatusCode
		}
		ex.err = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			done <- collector.Post(url, form)
			return
		}
		done <- collector.Visit(url)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case visitErr = <-done:
	}
	if ex.err == nil {
		ex.err = visitErr
	}
	if errors.Is(ex.err, colly.ErrRobotsTxtBlocked) {
		ex.err = &StatusError{URL: url, Kind: ErrClient, Err: ex.err}
		metrics.ObserveFetch(url, "blocked", 0)
		return nil, ex.err
	}
	if err := Classify(url, ex.status, ex.err); err != nil {
		metrics.ObserveFetch(url, outcomeLabel(err), 0)
		c.logger.Debug("fetch failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status", ex.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.ObserveFetch(url, "ok", len(ex.body))
	return ex.body, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrTransientServer):
		return "server_error"
	case errors.Is(err, ErrReadTimeout):
		return "timeout"
	case errors.Is(err, ErrClient):
		return "client_error"
	default:
		return "network_error"
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
