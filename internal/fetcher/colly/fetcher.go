// Package collyfetcher fetches creator feed pages using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

const defaultTimeout = 15 * time.Second

// DefaultSiteDomain is the creator site domain used to derive the Origin header.
const DefaultSiteDomain = "fanbox.cc"

// Config controls collector behavior.
type Config struct {
	UserAgent  string
	Timeout    time.Duration
	SiteDomain string
}

// Fetcher implements archive.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SiteDomain == "" {
		cfg.SiteDomain = DefaultSiteDomain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	// Cursors are plain URLs and may repeat across runs; the API has no robots.txt.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Origin returns the Origin header value the feed API expects for creatorID.
func (f *Fetcher) Origin(creatorID string) string {
	return Origin(creatorID, f.cfg.SiteDomain)
}

// Origin builds "https://{creator}.{siteDomain}".
func Origin(creatorID, siteDomain string) string {
	return fmt.Sprintf("https://%s.%s", creatorID, siteDomain)
}

// FetchPage executes a single GET for one feed page and returns the raw body.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string, creatorID string) ([]byte, error) {
	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, f.Origin(creatorID), &body, &status, &fetchErr)

	start := time.Now()
	if err := f.runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		return nil, err
	}
	f.logger.Info("feed page fetched",
		zap.String("url", pageURL),
		zap.Int("status", status),
		zap.Int("bytes", len(body)),
		zap.Duration("dur", time.Since(start)),
	)
	return body, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	origin string,
	body *[]byte,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Origin", origin)
		r.Headers.Set("Accept", "application/json")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w: %w", url, archive.ErrTransport, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("fetch %s: %w: %v", url, archive.ErrTransport, *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("fetch %s: %w: %v", url, archive.ErrTransport, err)
		}
		return nil
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
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
