package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
)

// Limiter keeps one token bucket per host so the board is not hammered.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a Limiter. A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiters: make(map[string]*rate.Limiter), rate: r, burst: burst}
}

// Wait blocks until the host of rawURL may be contacted.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}
