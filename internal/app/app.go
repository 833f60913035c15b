// Package app builds the archiver's dependencies from configuration and owns
// their lifetime.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
	"github.com/JakeFAU/fanbox-archiver/internal/clock/system"
	"github.com/JakeFAU/fanbox-archiver/internal/config"
	"github.com/JakeFAU/fanbox-archiver/internal/crawl"
	"github.com/JakeFAU/fanbox-archiver/internal/feed"
	collyfetcher "github.com/JakeFAU/fanbox-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/fanbox-archiver/internal/hash/sha256"
	"github.com/JakeFAU/fanbox-archiver/internal/id/uuid"
	ledgermem "github.com/JakeFAU/fanbox-archiver/internal/ledger/memory"
	pgledger "github.com/JakeFAU/fanbox-archiver/internal/ledger/postgres"
	"github.com/JakeFAU/fanbox-archiver/internal/media"
	"github.com/JakeFAU/fanbox-archiver/internal/metrics"
	"github.com/JakeFAU/fanbox-archiver/internal/progress"
	progresssinks "github.com/JakeFAU/fanbox-archiver/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/fanbox-archiver/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/fanbox-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/fanbox-archiver/internal/ratelimit"
	"github.com/JakeFAU/fanbox-archiver/internal/render"
	"github.com/JakeFAU/fanbox-archiver/internal/render/headless"
	gcsstorage "github.com/JakeFAU/fanbox-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/fanbox-archiver/internal/storage/local"
	"github.com/JakeFAU/fanbox-archiver/internal/telemetry"
)

// App holds one configured archive run and the resources it owns.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	engine   *crawl.Engine
	registry *prometheus.Registry

	renderer      *headless.Renderer
	progressHub   *progress.Hub
	metricsServer *metrics.Server
	pgLedger      *pgledger.Ledger
	storage       *storage.Client
	pubsubClient  *pubsub.Client
	publisher     *gcppublisher.Publisher
	tracer        *sdktrace.TracerProvider
}

// Build creates every dependency named by cfg. On error, whatever was
// already started is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	if err := a.build(ctx); err != nil {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	boundary, err := a.cfg.Boundary()
	if err != nil {
		return err
	}
	ledger, err := a.setupLedger(ctx)
	if err != nil {
		return err
	}
	mirror, err := a.setupMirror(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	dispatcher, err := a.setupRenderer()
	if err != nil {
		return err
	}
	emitter, err := a.setupProgress(ctx)
	if err != nil {
		return err
	}

	// Only feed paging is paced; a post's media fan-out stays uncapped.
	limiter, err := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.HTTP.RequestsPerSecond,
		Burst: a.cfg.HTTP.Burst,
	}, a.registry)
	if err != nil {
		return err
	}

	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:  a.cfg.HTTP.UserAgent,
		Timeout:    a.cfg.HTTP.Timeout,
		SiteDomain: a.cfg.Feed.SiteDomain,
	}, a.logger.Named("feed"))
	deps := crawl.Deps{
		Pages:   ratelimit.Pages(pages, limiter),
		Decoder: feed.NewDecoder(),
		Media: media.New(media.Config{
			UserAgent: a.cfg.HTTP.UserAgent,
			Timeout:   a.cfg.Media.Timeout,
		}, nil, a.logger.Named("media")),
		Ledger:    ledger,
		Mirror:    mirror,
		Publisher: publisher,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Progress:  emitter,
	}
	if a.cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName, a.logger.Named("trace"))
		if err != nil {
			return fmt.Errorf("tracing init failed: %w", err)
		}
		a.tracer = tp
		deps.Tracer = tp.Tracer(telemetry.TracerName)
	}
	// Assigning a nil *render.Dispatcher would make the interface non-nil.
	if dispatcher != nil {
		deps.Renderer = dispatcher
	}

	a.engine, err = crawl.New(crawl.Config{
		CreatorID:    a.cfg.CreatorID,
		APIBase:      a.cfg.Feed.APIBase,
		SiteDomain:   a.cfg.Feed.SiteDomain,
		PageLimit:    a.cfg.Feed.PageLimit,
		OutputDir:    a.cfg.Output.Dir,
		RenderMode:   a.cfg.Render.Mode,
		Screenshot:   a.cfg.Render.Screenshot,
		Boundary:     boundary,
		MirrorPrefix: a.cfg.Mirror.Prefix,
		Topic:        a.cfg.Publish.Topic,
	}, deps, a.logger.Named("crawl"))
	if err != nil {
		return fmt.Errorf("crawl engine init failed: %w", err)
	}
	return nil
}

func (a *App) setupLedger(ctx context.Context) (archive.Ledger, error) {
	switch a.cfg.Ledger.Driver {
	case config.DriverPostgres:
		a.logger.Info("using postgres ledger", zap.String("table", a.cfg.Ledger.Table))
		l, err := pgledger.New(ctx, pgledger.Config{DSN: a.cfg.Ledger.DSN, Table: a.cfg.Ledger.Table})
		if err != nil {
			return nil, fmt.Errorf("postgres ledger init failed: %w", err)
		}
		a.pgLedger = l
		if err := l.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres ledger schema: %w", err)
		}
		return l, nil
	default:
		a.logger.Debug("using in-memory ledger")
		return ledgermem.New(), nil
	}
}

func (a *App) setupMirror(ctx context.Context) (archive.BlobStore, error) {
	switch a.cfg.Mirror.Driver {
	case config.DriverGCS:
		a.logger.Info("mirroring artifacts to GCS", zap.String("bucket", a.cfg.Mirror.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Mirror.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs mirror init failed: %w", err)
		}
		return store, nil
	case config.DriverLocal:
		a.logger.Info("mirroring artifacts locally", zap.String("dir", a.cfg.Mirror.Dir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Mirror.Dir})
		if err != nil {
			return nil, fmt.Errorf("local mirror init failed: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (archive.Publisher, error) {
	switch a.cfg.Publish.Driver {
	case config.DriverPubSub:
		a.logger.Info("publishing notifications to Pub/Sub", zap.String("topic", a.cfg.Publish.Topic))
		client, err := pubsub.NewClient(ctx, a.cfg.Publish.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		pub, err := gcppublisher.New(client, a.cfg.Publish.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		return pub, nil
	case config.DriverMemory:
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupRenderer() (*render.Dispatcher, error) {
	if !a.cfg.Render.Enabled {
		a.logger.Info("rendering disabled, only documents and media are archived")
		return nil, nil
	}
	renderer, err := headless.NewChromedp(headless.Config{
		UserAgent:       a.cfg.HTTP.UserAgent,
		Headless:        a.cfg.Render.Headless,
		Timeout:         a.cfg.Render.Timeout,
		WaitNetworkIdle: a.cfg.Render.WaitNetworkIdle,
		SettleGrace:     a.cfg.Render.SettleGrace,
	}, a.logger.Named("chromedp"))
	if err != nil {
		return nil, fmt.Errorf("headless renderer init failed: %w", err)
	}
	a.renderer = renderer
	return render.NewDispatcher(renderer, sha256.New(), a.logger.Named("render")), nil
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	sinks := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress"))}
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinks = append(sinks, promSink)
	a.progressHub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress"),
	}, sinks...)

	if a.cfg.Metrics.Addr != "" {
		srv, err := metrics.NewServer(a.cfg.Metrics.Addr, a.registry, a.logger.Named("metrics"))
		if err != nil {
			return nil, fmt.Errorf("metrics server init failed: %w", err)
		}
		a.metricsServer = srv
	}
	return a.progressHub, nil
}

// Run serves metrics, if configured, and performs the archive run.
func (a *App) Run(ctx context.Context) (crawl.Summary, error) {
	if a.metricsServer != nil {
		if _, err := a.metricsServer.Start(); err != nil {
			return crawl.Summary{}, err
		}
	}
	err := a.engine.Run(ctx)
	return a.engine.Summary(), err
}

// Close releases every resource in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		if err := a.renderer.Close(ctx); err != nil {
			a.logger.Warn("renderer close failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgLedger != nil {
		a.pgLedger.Close()
	}
	return nil
}
