package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
	"github.com/JakeFAU/fanbox-archiver/internal/feed"
	ledgermem "github.com/JakeFAU/fanbox-archiver/internal/ledger/memory"
	"github.com/JakeFAU/fanbox-archiver/internal/progress"
	pubmem "github.com/JakeFAU/fanbox-archiver/internal/publisher/memory"
	blobmem "github.com/JakeFAU/fanbox-archiver/internal/storage/memory"
)

const (
	testAPIBase = "https://api.test"
	testCreator = "alice"
	testRunID   = "0190a5d2-7a1b-7c3d-8e4f-5a6b7c8d9e0f"
)

var seedURL = SeedURL(testAPIBase, testCreator, DefaultPageLimit)

type fakePages struct {
	mu        sync.Mutex
	pages     map[string][]byte
	errs      map[string]error
	requested []string
}

func (f *fakePages) FetchPage(_ context.Context, pageURL string, creatorID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if creatorID != testCreator {
		return nil, fmt.Errorf("unexpected creator %q", creatorID)
	}
	f.requested = append(f.requested, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return nil, err
	}
	raw, ok := f.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("%w: no page at %s", archive.ErrTransport, pageURL)
	}
	return raw, nil
}

func (f *fakePages) Requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}

type fakeMedia struct {
	mu   sync.Mutex
	dirs []string
	fail map[string]bool
}

func (f *fakeMedia) FetchAll(_ context.Context, dir string, images map[string]archive.MediaAsset) []archive.MediaResult {
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()
	results := make([]archive.MediaResult, 0, len(images))
	for id, asset := range images {
		res := archive.MediaResult{
			MediaID: id,
			URL:     asset.OriginalURL,
			Path:    filepath.Join(dir, archive.MediaFileName(id, asset.Extension)),
		}
		if f.fail[id] {
			res.Err = fmt.Errorf("%w: status 404", archive.ErrTransport)
		} else if err := os.WriteFile(res.Path, []byte("img-"+id), 0o600); err != nil {
			res.Err = err
		} else {
			res.Bytes = int64(len("img-" + id))
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].MediaID < results[j].MediaID })
	return results
}

type fakeRenderer struct {
	mu   sync.Mutex
	reqs []archive.RenderRequest
	fail map[string]bool
}

func (f *fakeRenderer) Dispatch(_ context.Context, req archive.RenderRequest) (archive.Artifacts, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fail[req.PostID] {
		return archive.Artifacts{}, fmt.Errorf("%w: browser crashed", archive.ErrRenderFailure)
	}
	pdf := req.OutputBase + ".pdf"
	if err := os.WriteFile(pdf, []byte("%PDF"), 0o600); err != nil {
		return archive.Artifacts{}, err
	}
	return archive.Artifacts{PDF: pdf, PDFHash: "sha-" + req.PostID}, nil
}

func (f *fakeRenderer) Requests() []archive.RenderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]archive.RenderRequest(nil), f.reqs...)
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) {
	return testRunID, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type harness struct {
	engine    *Engine
	pages     *fakePages
	media     *fakeMedia
	renderer  *fakeRenderer
	ledger    *ledgermem.Ledger
	mirror    *blobmem.BlobStore
	publisher *pubmem.Publisher
	events    *recordingEmitter
	spans     *tracetest.SpanRecorder
	out       string
}

func newHarness(t *testing.T, cfg Config, pages map[string][]byte) *harness {
	t.Helper()
	h := &harness{
		pages:     &fakePages{pages: pages, errs: map[string]error{}},
		media:     &fakeMedia{fail: map[string]bool{}},
		renderer:  &fakeRenderer{fail: map[string]bool{}},
		ledger:    ledgermem.New(),
		mirror:    blobmem.NewBlobStore(),
		publisher: pubmem.New(),
		events:    &recordingEmitter{},
		spans:     tracetest.NewSpanRecorder(),
		out:       t.TempDir(),
	}
	cfg.CreatorID = testCreator
	cfg.APIBase = testAPIBase
	cfg.OutputDir = h.out
	if cfg.Topic == "" {
		cfg.Topic = "posts"
	}
	engine, err := New(cfg, Deps{
		Pages:     h.pages,
		Decoder:   feed.NewDecoder(),
		Media:     h.media,
		Renderer:  h.renderer,
		Ledger:    h.ledger,
		Mirror:    h.mirror,
		Publisher: h.publisher,
		Clock:     fixedClock{},
		IDs:       fixedIDs{},
		Progress:  h.events,
		Tracer:    sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans)).Tracer("test"),
	}, nil)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func feedPage(t *testing.T, next string, items ...map[string]any) []byte {
	t.Helper()
	if items == nil {
		items = []map[string]any{}
	}
	raw, err := json.Marshal(map[string]any{
		"body": map[string]any{"items": items, "nextUrl": next},
	})
	require.NoError(t, err)
	return raw
}

func post(id string, body any) map[string]any {
	return map[string]any{
		"id":                id,
		"title":             "Post " + id,
		"publishedDatetime": "2024-01-01T00:00:00+09:00",
		"updatedDatetime":   "2024-01-02T00:00:00+09:00",
		"body":              body,
	}
}

func textPost(id string) map[string]any {
	return post(id, map[string]any{"text": "<p>raw " + id + "</p>", "imageMap": map[string]any{}})
}

func blockPost(id, imageRef string, images ...string) map[string]any {
	imageMap := map[string]any{}
	for _, img := range images {
		imageMap[img] = map[string]any{
			"id":          img,
			"extension":   "png",
			"originalUrl": "http://media.test/" + img + ".png",
		}
	}
	return post(id, map[string]any{
		"blocks": []map[string]any{
			{"type": "p", "text": "hello"},
			{"type": "image", "imageId": imageRef},
		},
		"imageMap": imageMap,
	})
}

func restrictedPost(id string) map[string]any {
	return post(id, nil)
}

func mustBoundary(t *testing.T, lower, upper string) archive.Boundary {
	t.Helper()
	b, err := archive.NewBoundary(lower, upper)
	require.NoError(t, err)
	return b
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunArchivesAcrossPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MirrorPrefix: "fanbox"}, nil)
	h.pages.pages = map[string][]byte{
		seedURL: feedPage(t, "https://api.test/page2",
			blockPost("300", "img1", "img1"),
			textPost("299"),
		),
		"https://api.test/page2": feedPage(t, "", restrictedPost("298")),
	}

	require.NoError(t, h.engine.Run(context.Background()))

	assert.Equal(t, []string{seedURL, "https://api.test/page2"}, h.pages.Requested())
	assert.Equal(t, Summary{Pages: 2, Archived: 2, Skipped: 1}, h.engine.Summary())
	assert.Equal(t, testRunID, h.engine.RunID())
	assert.ElementsMatch(t, []string{"299", "300"}, dirEntries(t, h.out))

	doc, err := os.ReadFile(filepath.Join(h.out, "300", "index.html")) // #nosec G304 -- test reads from the controlled temp directory.
	require.NoError(t, err)
	html := string(doc)
	hello := strings.Index(html, "<p>hello</p>")
	img := strings.Index(html, `<img src="./img1.png" />`)
	require.NotEqual(t, -1, hello)
	require.NotEqual(t, -1, img)
	assert.Less(t, hello, img)
	assert.FileExists(t, filepath.Join(h.out, "300", "img1.png"))

	reqs := h.renderer.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, archive.RenderRequest{
		PostID:     "300",
		Source:     filepath.Join(h.out, "300", "index.html"),
		OutputBase: filepath.Join(h.out, "300", "300-Post 300"),
	}, reqs[0])

	rec, ok := h.ledger.Get("300")
	require.True(t, ok)
	assert.Equal(t, testCreator, rec.CreatorID)
	assert.Equal(t, "sha-300", rec.PDFSHA256)
	assert.Equal(t, 1, rec.MediaTotal)
	assert.Equal(t, testRunID, rec.RunID)

	assert.Equal(t, []string{
		"fanbox/299/299-Post 299.pdf",
		"fanbox/299/index.html",
		"fanbox/300/300-Post 300.pdf",
		"fanbox/300/img1.png",
		"fanbox/300/index.html",
	}, h.mirror.Paths())
	pdf, ok := h.mirror.Get("fanbox/300/300-Post 300.pdf")
	require.True(t, ok)
	assert.Equal(t, "application/pdf", pdf.ContentType)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "posts", msgs[0].Topic)
	notice, ok := msgs[0].Payload.(archive.PostArchived)
	require.True(t, ok)
	assert.Equal(t, "300", notice.PostID)
	assert.Equal(t, "memory://fanbox/300/img1.png", notice.Mirrored["img1.png"])

	assert.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StagePageDone,
		progress.StagePostDone,
		progress.StagePostDone,
		progress.StagePageDone,
		progress.StagePostSkip,
		progress.StageRunDone,
	}, h.events.Stages())
}

func TestRunFlatTextBodyIsVerbatim(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", textPost("7"))}

	require.NoError(t, h.engine.Run(context.Background()))
	doc, err := os.ReadFile(filepath.Join(h.out, "7", "index.html")) // #nosec G304 -- test reads from the controlled temp directory.
	require.NoError(t, err)
	assert.Contains(t, string(doc), "</p>\n<p>raw 7</p>\n</body>")
	assert.NotContains(t, string(doc), "<p><p>raw 7</p></p>")
}

func TestRunEmptyPageStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.pages.pages = map[string][]byte{
		seedURL:                  feedPage(t, "https://api.test/never"),
		"https://api.test/never": feedPage(t, "", textPost("1")),
	}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, []string{seedURL}, h.pages.Requested())
	assert.Equal(t, Summary{Pages: 1}, h.engine.Summary())
}

func TestRunLowerBoundStopsCrawl(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Boundary: mustBoundary(t, "9", "")}, nil)
	h.pages.pages = map[string][]byte{
		seedURL:                  feedPage(t, "https://api.test/page2", textPost("11"), textPost("10"), textPost("9"), textPost("8")),
		"https://api.test/page2": feedPage(t, "", textPost("7")),
	}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, []string{seedURL}, h.pages.Requested())
	assert.ElementsMatch(t, []string{"10", "11"}, dirEntries(t, h.out))
	assert.Equal(t, Summary{Pages: 1, Archived: 2}, h.engine.Summary())
}

func TestRunUpperBoundSkipsAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Boundary: mustBoundary(t, "", "100")}, nil)
	h.pages.pages = map[string][]byte{
		seedURL:                  feedPage(t, "https://api.test/page2", textPost("102"), textPost("101")),
		"https://api.test/page2": feedPage(t, "", textPost("100"), textPost("99")),
	}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Len(t, h.pages.Requested(), 2)
	assert.ElementsMatch(t, []string{"100", "99"}, dirEntries(t, h.out))
	assert.Equal(t, Summary{Pages: 2, Archived: 2, Skipped: 2}, h.engine.Summary())
}

func TestRunRestrictedPostHasNoSideEffects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", restrictedPost("5"))}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Empty(t, dirEntries(t, h.out))
	assert.Empty(t, h.media.dirs)
	assert.Empty(t, h.renderer.Requests())
	assert.Zero(t, h.ledger.Len())
	assert.Equal(t, Summary{Pages: 1, Skipped: 1}, h.engine.Summary())
}

func TestRunMissingMediaReferenceFailsOnlyThatPost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.pages.pages = map[string][]byte{
		seedURL: feedPage(t, "", blockPost("20", "missing", "other"), textPost("19")),
	}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, []string{"19"}, dirEntries(t, h.out))
	assert.Equal(t, Summary{Pages: 1, Archived: 1, Failed: 1}, h.engine.Summary())
	_, ok := h.ledger.Get("20")
	assert.False(t, ok)
	assert.Contains(t, h.events.Stages(), progress.StagePostError)
}

func TestRunRenderFailureContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.renderer.fail["31"] = true
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", textPost("31"), textPost("30"))}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, Summary{Pages: 1, Archived: 1, Failed: 1}, h.engine.Summary())
	_, ok := h.ledger.Get("31")
	assert.False(t, ok)
	_, ok = h.ledger.Get("30")
	assert.True(t, ok)
	require.Len(t, h.publisher.Messages(), 1)
}

func TestRunRecordsSpans(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.renderer.fail["41"] = true
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", textPost("41"), textPost("40"))}

	require.NoError(t, h.engine.Run(context.Background()))

	ended := h.spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "archive.post", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "archive.post", ended[1].Name())
	assert.Equal(t, codes.Unset, ended[1].Status().Code)
	run := ended[2]
	assert.Equal(t, "archive.run", run.Name())
	assert.Equal(t, run.SpanContext().SpanID(), ended[0].Parent().SpanID())
	assert.Equal(t, run.SpanContext().SpanID(), ended[1].Parent().SpanID())
}

func TestRunMediaFailureDoesNotFailPost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.media.fail["b"] = true
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", blockPost("40", "a", "a", "b"))}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, Summary{Pages: 1, Archived: 1}, h.engine.Summary())
	rec, ok := h.ledger.Get("40")
	require.True(t, ok)
	assert.Equal(t, 2, rec.MediaTotal)
	assert.Equal(t, 1, rec.MediaFailed)
	_, mirrored := h.mirror.Get("40/b.png")
	assert.False(t, mirrored)
	_, mirrored = h.mirror.Get("40/a.png")
	assert.True(t, mirrored)
}

func TestRunSkipsPostsInLedger(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	require.NoError(t, h.ledger.Record(context.Background(), archive.Record{PostID: "50"}))
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", textPost("51"), textPost("50"))}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, []string{"51"}, dirEntries(t, h.out))
	assert.Equal(t, Summary{Pages: 1, Archived: 1, Skipped: 1}, h.engine.Summary())
}

func TestRunLiveMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RenderMode: ModeLive, Screenshot: true}, nil)
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", textPost("60"))}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.FileExists(t, filepath.Join(h.out, "60", "60-Post 60.html"))
	assert.NoFileExists(t, filepath.Join(h.out, "60", "index.html"))

	reqs := h.renderer.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].IsURL)
	assert.True(t, reqs[0].Screenshot)
	assert.Equal(t, "https://alice.fanbox.cc/posts/60", reqs[0].Source)
}

func TestRunWithoutRenderer(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	pages := &fakePages{pages: map[string][]byte{}}
	seed := SeedURL(DefaultAPIBase, testCreator, 5)
	pages.pages[seed] = feedPage(t, "", textPost("70"))
	engine, err := New(Config{CreatorID: testCreator, OutputDir: out, PageLimit: 5}, Deps{
		Pages:   pages,
		Decoder: feed.NewDecoder(),
		Media:   &fakeMedia{},
		Clock:   fixedClock{},
		IDs:     fixedIDs{},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, []string{"index.html"}, dirEntries(t, filepath.Join(out, "70")))
	assert.Equal(t, Summary{Pages: 1, Archived: 1}, engine.Summary())
}

func TestRunPageFailuresAreFatal(t *testing.T) {
	t.Parallel()

	t.Run("transport", func(t *testing.T) {
		h := newHarness(t, Config{}, nil)
		h.pages.pages = map[string][]byte{seedURL: feedPage(t, "https://api.test/page2", textPost("2"))}
		h.pages.errs["https://api.test/page2"] = fmt.Errorf("%w: status 503", archive.ErrTransport)

		err := h.engine.Run(context.Background())
		require.ErrorIs(t, err, archive.ErrTransport)
		assert.Equal(t, Summary{Pages: 1, Archived: 1}, h.engine.Summary())
		stages := h.events.Stages()
		assert.Equal(t, progress.StageRunError, stages[len(stages)-1])
	})

	t.Run("malformed", func(t *testing.T) {
		h := newHarness(t, Config{}, nil)
		h.pages.pages = map[string][]byte{seedURL: []byte(`{"body": {}}`)}

		err := h.engine.Run(context.Background())
		require.ErrorIs(t, err, archive.ErrMalformedResponse)
		assert.Empty(t, dirEntries(t, h.out))
	})
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", textPost("1"))}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.pages.Requested())
}

type failingLedger struct {
	*ledgermem.Ledger
}

func (failingLedger) Has(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func TestRunLedgerErrorArchivesAnyway(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	engine, err := New(Config{CreatorID: testCreator, APIBase: testAPIBase, OutputDir: out}, Deps{
		Pages:   &fakePages{pages: map[string][]byte{seedURL: feedPage(t, "", textPost("80"))}},
		Decoder: feed.NewDecoder(),
		Media:   &fakeMedia{},
		Ledger:  failingLedger{ledgermem.New()},
		Clock:   fixedClock{},
		IDs:     fixedIDs{},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, Summary{Pages: 1, Archived: 1}, engine.Summary())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	deps := Deps{
		Pages:   &fakePages{},
		Decoder: feed.NewDecoder(),
		Media:   &fakeMedia{},
		Clock:   fixedClock{},
		IDs:     fixedIDs{},
	}
	_, err := New(Config{OutputDir: "out"}, deps, nil)
	require.Error(t, err)
	_, err = New(Config{CreatorID: "a"}, deps, nil)
	require.Error(t, err)
	_, err = New(Config{CreatorID: "a", OutputDir: "out", RenderMode: "pdf"}, deps, nil)
	require.Error(t, err)
	_, err = New(Config{CreatorID: "a", OutputDir: "out"}, Deps{}, nil)
	require.Error(t, err)

	engine, err := New(Config{CreatorID: "a", OutputDir: "out"}, deps, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, engine.cfg.RenderMode)
	assert.Equal(t, DefaultSiteDomain, engine.cfg.SiteDomain)
}

func TestURLs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://api.fanbox.cc/post.listCreator?creatorId=alice&limit=10",
		SeedURL("https://api.fanbox.cc/", "alice", 10))
	assert.Equal(t, "https://alice.fanbox.cc/posts/42", PostURL("alice", "fanbox.cc", "42"))
}

func TestObjectPathAndContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fanbox/42/a.png", ObjectPath("/fanbox/", "42", "a.png"))
	assert.Equal(t, "42/a.png", ObjectPath("", "42", "a.png"))
	assert.Equal(t, "application/pdf", ContentType("x/42-T.pdf"))
	assert.Equal(t, "image/png", ContentType("a.PNG"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}

func TestRunArchivesImageOnlyPost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	imageOnly := post("19", map[string]any{
		"imageMap": map[string]any{
			"i1": map[string]any{"id": "i1", "extension": "jpg", "originalUrl": "http://media.test/i1.jpg"},
		},
		"fileMap":  map[string]any{},
		"embedMap": map[string]any{},
	})
	h.pages.pages = map[string][]byte{seedURL: feedPage(t, "", textPost("20"), imageOnly)}

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, Summary{Pages: 1, Archived: 2}, h.engine.Summary())
	assert.FileExists(t, filepath.Join(h.out, "19", "index.html"))
	assert.FileExists(t, filepath.Join(h.out, "19", "i1.jpg"))
	_, ok := h.ledger.Get("19")
	assert.True(t, ok)
}
