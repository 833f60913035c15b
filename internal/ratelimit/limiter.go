// Package ratelimit paces outbound requests with one token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// Config holds limiter settings. A non-positive RPS disables limiting.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	delay    *prometheus.HistogramVec
}

// New creates a Limiter. When reg is non-nil the time spent waiting is
// exported as archiver_ratelimit_wait_seconds.
func New(cfg Config, reg prometheus.Registerer) (*Limiter, error) {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
	if reg != nil {
		l.delay = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_ratelimit_wait_seconds",
			Help:    "Time requests spent waiting on the per-host rate limiter.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"host"})
		if err := reg.Register(l.delay); err != nil {
			return nil, fmt.Errorf("register rate limit metrics: %w", err)
		}
	}
	return l, nil
}

// Wait blocks until a token is available for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	start := time.Now()
	if err := l.forHost(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// An immediately available token is not worth a sample.
	if d := time.Since(start); l.delay != nil && d > time.Millisecond {
		l.delay.WithLabelValues(host).Observe(d.Seconds())
	}
	return nil
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

// PageFetcher paces an archive.PageFetcher through a Limiter.
type PageFetcher struct {
	next    archive.PageFetcher
	limiter *Limiter
}

// Pages wraps next so every feed page request waits for a token first.
func Pages(next archive.PageFetcher, limiter *Limiter) *PageFetcher {
	return &PageFetcher{next: next, limiter: limiter}
}

// FetchPage implements archive.PageFetcher.
func (p *PageFetcher) FetchPage(ctx context.Context, pageURL string, creatorID string) ([]byte, error) {
	if err := p.limiter.Wait(ctx, pageURL); err != nil {
		return nil, err
	}
	return p.next.FetchPage(ctx, pageURL, creatorID)
}
