// Package headless renders archived posts to PDF and JPEG with headless
// Chrome driven through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

const (
	defaultTimeout     = 60 * time.Second
	defaultSettleGrace = 2 * time.Second
	defaultIdleWait    = 15 * time.Second
	screenshotQuality  = 90

	// A4 portrait, in inches.
	paperWidth  = 8.27
	paperHeight = 11.69
	marginInch  = 1.0
)

// Config controls the behavior of the headless renderer.
type Config struct {
	UserAgent string
	Headless  bool
	// Timeout bounds one render request, navigation included.
	Timeout time.Duration
	// WaitNetworkIdle waits for the networkIdle lifecycle event before
	// capturing; otherwise capture starts once the body is ready.
	WaitNetworkIdle bool
	// SettleGrace is the quiet window without network activity required
	// after networkIdle.
	SettleGrace time.Duration
	// IdleWait caps how long to wait for networkIdle before capturing anyway.
	IdleWait time.Duration
}

// Renderer implements archive.RenderEngine. One browser is started per
// Renderer and every request gets its own tab.
type Renderer struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// NewChromedp starts the browser used for every subsequent render.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("allow-file-access-from-files", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Renderer{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	// Zero disables the quiet window; only a negative value selects the default.
	if cfg.SettleGrace < 0 {
		cfg.SettleGrace = defaultSettleGrace
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = defaultIdleWait
	}
	return cfg
}

// Close shuts the browser down and waits, bounded by ctx, for it to exit
// before releasing the allocator.
func (r *Renderer) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	defer r.allocCancel()
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(r.browserCtx)
	}()
	select {
	case err := <-done:
		r.browserCancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close browser: %w", err)
		}
		return nil
	case <-ctx.Done():
		r.browserCancel()
		return fmt.Errorf("close browser: %w", ctx.Err())
	}
}

// Render opens a fresh tab, loads the document or URL, waits for it to settle,
// and captures a PDF plus an optional full-page JPEG.
func (r *Renderer) Render(ctx context.Context, req archive.RenderRequest) (archive.RenderResult, error) {
	if r == nil {
		return archive.RenderResult{}, fmt.Errorf("%w: %w", archive.ErrRenderFailure, ErrRendererDisabled)
	}
	target, err := navigationTarget(req)
	if err != nil {
		return archive.RenderResult{}, fmt.Errorf("%w: %v", archive.ErrRenderFailure, err)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	watcher := newIdleWatcher()
	chromedp.ListenTarget(tabCtx, watcher.observe)

	var result archive.RenderResult
	actions := []chromedp.Action{
		r.setupAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if r.cfg.WaitNetworkIdle {
		actions = append(actions, r.settleAction(watcher, req.PostID))
	}
	actions = append(actions, printPDF(&result.PDF))
	if req.Screenshot {
		actions = append(actions, chromedp.FullScreenshot(&result.Image, screenshotQuality))
	}

	start := time.Now()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return archive.RenderResult{}, fmt.Errorf("render %s: %w: %v", target, archive.ErrRenderFailure, err)
	}
	r.logger.Debug("rendered post",
		zap.String("post_id", req.PostID),
		zap.String("target", target),
		zap.Int("pdf_bytes", len(result.PDF)),
		zap.Int("image_bytes", len(result.Image)),
		zap.Duration("dur", time.Since(start)),
	)
	return result, nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) settleAction(w *idleWatcher, postID string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		sawIdle, err := w.waitSettled(ctx, r.cfg.IdleWait, r.cfg.SettleGrace)
		if err != nil {
			return fmt.Errorf("wait for network idle: %w", err)
		}
		if !sawIdle {
			r.logger.Debug("networkIdle not observed, capturing anyway",
				zap.String("post_id", postID), zap.Duration("waited", r.cfg.IdleWait))
		}
		return nil
	})
}

func printPDF(res *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(paperWidth).
			WithPaperHeight(paperHeight).
			WithMarginTop(marginInch).
			WithMarginBottom(marginInch).
			WithMarginLeft(marginInch).
			WithMarginRight(marginInch).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("print to pdf: %w", err)
		}
		*res = buf
		return nil
	})
}

// navigationTarget turns a local document path into a file:// URL.
func navigationTarget(req archive.RenderRequest) (string, error) {
	if req.Source == "" {
		return "", errors.New("render source is empty")
	}
	if req.IsURL {
		return req.Source, nil
	}
	abs, err := filepath.Abs(req.Source)
	if err != nil {
		return "", fmt.Errorf("resolve document path: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
