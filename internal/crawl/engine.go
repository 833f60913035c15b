package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
	"github.com/JakeFAU/fanbox-archiver/internal/content"
	"github.com/JakeFAU/fanbox-archiver/internal/document"
	"github.com/JakeFAU/fanbox-archiver/internal/media"
	"github.com/JakeFAU/fanbox-archiver/internal/progress"
)

// Render modes.
const (
	ModeLocal = "local"
	ModeLive  = "live"
)

// Defaults applied by New.
const (
	DefaultAPIBase    = "https://api.fanbox.cc"
	DefaultSiteDomain = "fanbox.cc"
	DefaultPageLimit  = 10
)

// Config holds the per-run settings.
type Config struct {
	CreatorID  string
	APIBase    string
	SiteDomain string
	PageLimit  int
	OutputDir  string
	RenderMode string
	Screenshot bool
	Boundary   archive.Boundary
	// MirrorPrefix is prepended to mirrored object paths.
	MirrorPrefix string
	// Topic receives PostArchived notifications.
	Topic string
}

// Deps are the collaborators of an Engine. Pages, Decoder, Media, Clock and
// IDs are required. A nil Renderer skips rendering; nil Ledger, Mirror and
// Publisher disable those steps. A nil Tracer records nothing.
type Deps struct {
	Pages     archive.PageFetcher
	Decoder   archive.PageDecoder
	Media     archive.MediaFetcher
	Renderer  archive.Dispatcher
	Ledger    archive.Ledger
	Mirror    archive.BlobStore
	Publisher archive.Publisher
	Clock     archive.Clock
	IDs       archive.IDGenerator
	Progress  progress.Emitter
	Tracer    trace.Tracer
}

// Summary counts what a run did.
type Summary struct {
	Pages    int
	Archived int
	Skipped  int
	Failed   int
}

// Engine drives one archive run.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	runID    string
	runBytes [16]byte

	mu      sync.Mutex
	summary Summary
}

// New validates cfg and deps and returns an Engine ready to Run.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.CreatorID) == "" {
		return nil, errors.New("creator id is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output dir is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.SiteDomain == "" {
		cfg.SiteDomain = DefaultSiteDomain
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	switch cfg.RenderMode {
	case "":
		cfg.RenderMode = ModeLocal
	case ModeLocal, ModeLive:
	default:
		return nil, fmt.Errorf("unknown render mode %q", cfg.RenderMode)
	}
	if deps.Pages == nil || deps.Decoder == nil || deps.Media == nil {
		return nil, errors.New("page fetcher, decoder and media fetcher are required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("clock and id generator are required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger}, nil
}

// SeedURL returns the first feed page URL for a creator.
func SeedURL(apiBase, creatorID string, limit int) string {
	q := url.Values{}
	q.Set("creatorId", creatorID)
	q.Set("limit", strconv.Itoa(limit))
	return strings.TrimRight(apiBase, "/") + "/post.listCreator?" + q.Encode()
}

// PostURL returns the public page of a post.
func PostURL(creatorID, siteDomain, postID string) string {
	return fmt.Sprintf("https://%s.%s/posts/%s", creatorID, siteDomain, postID)
}

// Summary returns a snapshot of the run counters.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary
}

// RunID returns the id of the current or last run.
func (e *Engine) RunID() string {
	return e.runID
}

// Run crawls the feed until the last page, the lower bound, or a fatal error.
// Page transport and decode failures are fatal; post failures are logged and
// counted. Cancellation of ctx stops the run with ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	runID, err := e.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	e.runID = runID
	if b, parseErr := progress.ParseRunID(runID); parseErr == nil {
		e.runBytes = b
	} else {
		e.logger.Debug("run id is not a uuid, progress events disabled", zap.String("run_id", runID))
	}
	e.mu.Lock()
	e.summary = Summary{}
	e.mu.Unlock()

	seed := SeedURL(e.cfg.APIBase, e.cfg.CreatorID, e.cfg.PageLimit)
	start := e.deps.Clock.Now()
	e.logger.Info("archive run started",
		zap.String("run_id", runID),
		zap.String("creator_id", e.cfg.CreatorID),
		zap.Stringer("bounds", e.cfg.Boundary),
		zap.String("render_mode", e.cfg.RenderMode),
	)
	e.emit(progress.Event{Stage: progress.StageRunStart, URL: seed})

	ctx, span := e.deps.Tracer.Start(ctx, "archive.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("creator.id", e.cfg.CreatorID),
	))
	defer span.End()

	err = e.crawl(ctx, seed)
	dur := e.deps.Clock.Now().Sub(start)
	sum := e.Summary()
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.Int("pages", sum.Pages),
		zap.Int("archived", sum.Archived),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Duration("dur", dur),
	}
	span.SetAttributes(attribute.Int("posts.archived", sum.Archived), attribute.Int("posts.failed", sum.Failed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "archive run failed")
		e.logger.Error("archive run failed", append(fields, zap.Error(err))...)
		e.emit(progress.Event{Stage: progress.StageRunError, Dur: nonNegative(dur), Note: err.Error()})
		return err
	}
	e.logger.Info("archive run finished", fields...)
	e.emit(progress.Event{Stage: progress.StageRunDone, Dur: nonNegative(dur), Count: sum.Archived})
	return nil
}

func (e *Engine) crawl(ctx context.Context, pageURL string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := e.deps.Pages.FetchPage(ctx, pageURL, e.cfg.CreatorID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("fetch page: %w", err)
		}
		page, err := e.deps.Decoder.Decode(raw)
		if err != nil {
			return fmt.Errorf("decode page %s: %w", pageURL, err)
		}
		e.count(func(s *Summary) { s.Pages++ })
		e.emit(progress.Event{Stage: progress.StagePageDone, URL: pageURL, Count: len(page.Items)})
		e.logger.Debug("page decoded", zap.String("url", pageURL), zap.Int("items", len(page.Items)))

		if len(page.Items) == 0 {
			e.logger.Info("no more items")
			return nil
		}
		stop, err := e.processItems(ctx, page.Items)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		if page.NextCursor == "" {
			e.logger.Info("reached last page")
			return nil
		}
		pageURL = page.NextCursor
	}
}

// processItems handles one page of posts in order. It reports stop=true once
// the lower bound is reached.
func (e *Engine) processItems(ctx context.Context, items []archive.Post) (bool, error) {
	for _, post := range items {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		id, err := archive.ParseID(post.ID)
		if err != nil {
			return false, fmt.Errorf("%w: %v", archive.ErrMalformedResponse, err)
		}
		if e.cfg.Boundary.Reached(id) {
			e.logger.Info("reached lower bound", zap.String("post_id", post.ID))
			return true, nil
		}
		if e.cfg.Boundary.Above(id) {
			e.skip(post, "above upper bound")
			continue
		}
		if post.Body == nil {
			e.skip(post, "restricted")
			continue
		}
		if e.archived(ctx, post.ID) {
			e.skip(post, "already archived")
			continue
		}

		start := e.deps.Clock.Now()
		postCtx, span := e.deps.Tracer.Start(ctx, "archive.post", trace.WithAttributes(attribute.String("post.id", post.ID)))
		out, err := e.archivePost(postCtx, post)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "post failed")
		}
		span.SetAttributes(attribute.Int("media.total", out.mediaTotal), attribute.Int("media.failed", out.mediaFailed))
		span.End()
		dur := nonNegative(e.deps.Clock.Now().Sub(start))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			e.fail(post, err, dur)
			continue
		}
		e.count(func(s *Summary) { s.Archived++ })
		e.emit(progress.Event{
			Stage:  progress.StagePostDone,
			PostID: post.ID,
			Bytes:  out.mediaBytes,
			Count:  out.mediaTotal,
			Dur:    dur,
		})
		e.logger.Info("post archived",
			zap.String("post_id", post.ID),
			zap.String("title", post.Title),
			zap.String("dir", out.dir),
			zap.Int("media", out.mediaTotal),
			zap.Int("media_failed", out.mediaFailed),
		)
	}
	return false, nil
}

func (e *Engine) archived(ctx context.Context, postID string) bool {
	if e.deps.Ledger == nil {
		return false
	}
	ok, err := e.deps.Ledger.Has(ctx, postID)
	if err != nil {
		e.logger.Warn("ledger lookup failed, archiving anyway", zap.String("post_id", postID), zap.Error(err))
		return false
	}
	return ok
}

func (e *Engine) skip(post archive.Post, reason string) {
	e.count(func(s *Summary) { s.Skipped++ })
	e.logger.Info("post skipped", zap.String("post_id", post.ID), zap.String("reason", reason))
	e.emit(progress.Event{Stage: progress.StagePostSkip, PostID: post.ID, Note: reason})
}

func (e *Engine) fail(post archive.Post, err error, dur time.Duration) {
	e.count(func(s *Summary) { s.Failed++ })
	stage := archive.Stage("unknown")
	var pe *archive.PostError
	if errors.As(err, &pe) {
		stage = pe.Stage
	}
	e.logger.Error("post failed",
		zap.String("post_id", post.ID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	e.emit(progress.Event{Stage: progress.StagePostError, PostID: post.ID, Dur: dur, Note: string(stage)})
}

type postOutcome struct {
	dir         string
	mediaTotal  int
	mediaFailed int
	mediaBytes  int64
}

func (e *Engine) archivePost(ctx context.Context, post archive.Post) (postOutcome, error) {
	segments, err := content.Normalize(*post.Body)
	if err != nil {
		return postOutcome{}, &archive.PostError{PostID: post.ID, Stage: archive.StageNormalize, Err: err}
	}

	dir := filepath.Join(e.cfg.OutputDir, post.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return postOutcome{}, &archive.PostError{
			PostID: post.ID,
			Stage:  archive.StageDirectory,
			Err:    fmt.Errorf("create %s: %w: %v", dir, archive.ErrFilesystem, err),
		}
	}

	results := e.deps.Media.FetchAll(ctx, dir, post.Body.Images)
	out := postOutcome{
		dir:         dir,
		mediaTotal:  len(results),
		mediaFailed: media.Failed(results),
		mediaBytes:  media.TotalBytes(results),
	}
	if out.mediaFailed > 0 {
		failed := make([]string, 0, out.mediaFailed)
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, r.MediaID)
			}
		}
		e.logger.Warn("media downloads failed",
			zap.String("post_id", post.ID),
			zap.Int("failed", out.mediaFailed),
			zap.Int("total", out.mediaTotal),
			zap.Strings("media_ids", failed),
		)
	}

	live := e.cfg.RenderMode == ModeLive
	html := document.Assemble(post, segments)
	docPath, err := document.Write(dir, document.FileName(post, live), html)
	if err != nil {
		return out, &archive.PostError{PostID: post.ID, Stage: archive.StageDocument, Err: err}
	}

	artifacts := archive.Artifacts{Document: docPath}
	if e.deps.Renderer != nil {
		req := archive.RenderRequest{
			PostID:     post.ID,
			Source:     docPath,
			OutputBase: filepath.Join(dir, post.BaseName()),
			Screenshot: e.cfg.Screenshot,
		}
		if live {
			req.Source = PostURL(e.cfg.CreatorID, e.cfg.SiteDomain, post.ID)
			req.IsURL = true
		}
		rendered, err := e.deps.Renderer.Dispatch(ctx, req)
		if err != nil {
			return out, &archive.PostError{PostID: post.ID, Stage: archive.StageRender, Err: err}
		}
		rendered.Document = docPath
		artifacts = rendered
	}

	mirrored := e.mirror(ctx, post.ID, artifacts, results)
	e.record(ctx, post, out, artifacts)
	e.notify(ctx, post, artifacts, mirrored)
	return out, nil
}

func (e *Engine) record(ctx context.Context, post archive.Post, out postOutcome, artifacts archive.Artifacts) {
	if e.deps.Ledger == nil {
		return
	}
	rec := archive.Record{
		PostID:      post.ID,
		Title:       post.Title,
		CreatorID:   e.cfg.CreatorID,
		Dir:         out.dir,
		PDFPath:     artifacts.PDF,
		PDFSHA256:   artifacts.PDFHash,
		MediaTotal:  out.mediaTotal,
		MediaFailed: out.mediaFailed,
		RunID:       e.runID,
		ArchivedAt:  e.deps.Clock.Now(),
	}
	if err := e.deps.Ledger.Record(ctx, rec); err != nil {
		e.logger.Warn("ledger record failed", zap.String("post_id", post.ID), zap.Error(err))
	}
}

func (e *Engine) notify(ctx context.Context, post archive.Post, artifacts archive.Artifacts, mirrored map[string]string) {
	if e.deps.Publisher == nil {
		return
	}
	msg := archive.PostArchived{
		RunID:      e.runID,
		CreatorID:  e.cfg.CreatorID,
		PostID:     post.ID,
		Title:      post.Title,
		Document:   artifacts.Document,
		PDF:        artifacts.PDF,
		Image:      artifacts.Image,
		Mirrored:   mirrored,
		ArchivedAt: e.deps.Clock.Now(),
	}
	id, err := e.deps.Publisher.Publish(ctx, e.cfg.Topic, msg)
	if err != nil {
		e.logger.Warn("publish notification failed", zap.String("post_id", post.ID), zap.Error(err))
		return
	}
	e.logger.Debug("notification published", zap.String("post_id", post.ID), zap.String("message_id", id))
}

func (e *Engine) count(update func(*Summary)) {
	e.mu.Lock()
	update(&e.summary)
	e.mu.Unlock()
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = e.runBytes
	evt.TS = e.deps.Clock.Now()
	e.deps.Progress.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
