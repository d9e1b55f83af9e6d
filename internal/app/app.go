// Package app builds and runs the service: it wires configuration into the
// stores, fetch pipeline, worker pool, and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/aifilter"
	"github.com/bizharvest/bizharvest/internal/api"
	"github.com/bizharvest/bizharvest/internal/clock/system"
	"github.com/bizharvest/bizharvest/internal/config"
	"github.com/bizharvest/bizharvest/internal/dispatcher"
	"github.com/bizharvest/bizharvest/internal/extractor"
	"github.com/bizharvest/bizharvest/internal/fetcher"
	"github.com/bizharvest/bizharvest/internal/fetcher/detector"
	"github.com/bizharvest/bizharvest/internal/fetcher/rendered"
	staticfetcher "github.com/bizharvest/bizharvest/internal/fetcher/static"
	"github.com/bizharvest/bizharvest/internal/hash/sha256"
	"github.com/bizharvest/bizharvest/internal/id/uuid"
	"github.com/bizharvest/bizharvest/internal/logging"
	"github.com/bizharvest/bizharvest/internal/metrics"
	"github.com/bizharvest/bizharvest/internal/normalizer"
	"github.com/bizharvest/bizharvest/internal/orchestrator"
	"github.com/bizharvest/bizharvest/internal/politeness"
	"github.com/bizharvest/bizharvest/internal/progress"
	"github.com/bizharvest/bizharvest/internal/progress/sinks"
	memorypublisher "github.com/bizharvest/bizharvest/internal/publisher/memory"
	gcppublisher "github.com/bizharvest/bizharvest/internal/publisher/pubsub"
	queuemem "github.com/bizharvest/bizharvest/internal/queue/memory"
	"github.com/bizharvest/bizharvest/internal/scrape"
	gcsstorage "github.com/bizharvest/bizharvest/internal/storage/gcs"
	localstorage "github.com/bizharvest/bizharvest/internal/storage/local"
	memorystorage "github.com/bizharvest/bizharvest/internal/storage/memory"
	pgstore "github.com/bizharvest/bizharvest/internal/storage/postgres"
	"github.com/bizharvest/bizharvest/internal/telemetry"
	"github.com/bizharvest/bizharvest/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	queue           *queuemem.Queue
	cancels         *worker.CancelRegistry
	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	gcsClient       *storage.Client
	pgStore         *pgstore.JobStore
	renderedFetcher *rendered.Fetcher
	tracerProvider  *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracing(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("tracing init failed: %w", err)
		}
		app.tracerProvider = tp
		app.logger.Info("tracing initialized", zap.String("service", cfg.Tracing.ServiceName))
	}

	jobStore, err := setupJobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	app.queue = queuemem.NewQueue(cfg.Scraper.QueueDepth)
	app.cancels = worker.NewCancelRegistry()
	setupProgress(app)
	app.dispatch, err = setupDispatcher(app, jobStore, blobStore, publisher)
	if err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		jobStore,
		app.dispatch,
		app.cancels,
		uuid.New(),
		system.New(),
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close()
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	a.queue.Close()
	if a.renderedFetcher != nil {
		a.renderedFetcher.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.progressHub != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.progressHub.Close(closeCtx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		cancel()
	}
	if a.tracerProvider != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracerProvider.Shutdown(closeCtx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupJobStore(ctx context.Context, app *App) (scrape.JobStore, error) {
	if !app.cfg.DB.Enabled {
		app.logger.Info("using in-memory job store")
		return memorystorage.NewJobStore(), nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.JobStoreConfig{
		DSN:           app.cfg.DB.DSN,
		JobsTable:     app.cfg.DB.JobsTable,
		EntitiesTable: app.cfg.DB.EntitiesTable,
		MaxConns:      int32(app.cfg.DB.MaxConns),
		MinConns:      int32(app.cfg.DB.MinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres job store init failed: %w", err)
	}
	app.pgStore = store
	app.logger.Info("postgres job store initialized", zap.String("jobs_table", app.cfg.DB.JobsTable))
	return store, nil
}

func setupStorage(ctx context.Context, app *App) (scrape.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (scrape.Publisher, error) {
	if !app.cfg.PubSub.Enabled {
		app.logger.Info("pubsub disabled, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = client.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info("pubsub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

// setupProgress builds the job progress hub. The Prometheus sink can fail
// registration when collectors already exist in the process; the hub then
// runs with logging only.
func setupProgress(app *App) {
	hubSinks := []progress.Sink{sinks.NewLogSink(app.logger.Named("progress"))}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		app.logger.Warn("progress prometheus sink unavailable", zap.Error(err))
	} else {
		hubSinks = append(hubSinks, promSink)
	}
	app.progressHub = progress.NewHub(progress.Config{Logger: app.logger.Named("progress")}, hubSinks...)
}

func setupPostFilter(app *App) scrape.PostFilter {
	if !app.cfg.AIFilter.Enabled {
		return nil
	}
	app.logger.Info("ai post filter enabled", zap.String("model", app.cfg.AIFilter.Model))
	return aifilter.New(app.cfg.AIFilter.APIKey, app.cfg.AIFilter.Model, app.logger.Named("aifilter"))
}

func setupFetcher(app *App) (scrape.Fetcher, error) {
	gate := politeness.New(politeness.Config{
		UserAgent:       app.cfg.Scraper.UserAgent,
		RespectRobots:   app.cfg.Scraper.RespectRobots,
		PerHostInterval: app.cfg.PerHostInterval(),
		RobotsTTL:       app.cfg.RobotsTTL(),
	}, app.logger.Named("politeness"))

	staticTransport := staticfetcher.New(staticfetcher.Config{
		UserAgent: app.cfg.Scraper.UserAgent,
		Timeout:   app.cfg.HTTPTimeout(),
	})
	app.logger.Info("static transport ready", zap.String("user_agent", app.cfg.Scraper.UserAgent))

	var renderedTransport scrape.Fetcher
	if app.cfg.Headless.Enabled {
		rf, err := rendered.New(rendered.Config{
			MaxParallel:       app.cfg.Headless.MaxParallel,
			UserAgent:         app.cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(app.cfg.Headless.SettleDelayMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("rendered fetcher init failed: %w", err)
		}
		app.renderedFetcher = rf
		renderedTransport = rf
		app.logger.Info("rendered transport ready", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	}

	retry := scrape.NewRetryPolicy(
		app.cfg.HTTP.MaxRetries,
		time.Duration(app.cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(app.cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)

	return fetcher.New(
		gate,
		staticTransport,
		renderedTransport,
		detector.New(0),
		retry,
		app.logger.Named("fetcher"),
	), nil
}

func setupDispatcher(
	app *App,
	jobStore scrape.JobStore,
	blobStore scrape.BlobStore,
	publisher scrape.Publisher,
) (*dispatcher.Dispatcher, error) {
	pipelineFetcher, err := setupFetcher(app)
	if err != nil {
		return nil, err
	}

	orchCfg := orchestrator.Config{
		Fetcher:            pipelineFetcher,
		Extractor:          extractor.New(app.logger.Named("extractor")),
		Normalizer:         normalizer.New(app.logger.Named("normalizer")),
		HostFailureCeiling: app.cfg.Scraper.HostFailureCeiling,
	}

	workerCfg := worker.Config{
		ContentType: app.cfg.Storage.ContentType,
		BlobPrefix:  app.cfg.Storage.Prefix,
		Topic:       app.cfg.PubSub.TopicName,
	}

	deps := worker.Deps{
		Queue:        app.queue,
		JobStore:     jobStore,
		BlobStore:    blobStore,
		Publisher:    publisher,
		PostFilter:   setupPostFilter(app),
		Hasher:       sha256.New(),
		Clock:        system.New(),
		Cancels:      app.cancels,
		Progress:     app.progressHub,
		Orchestrator: orchCfg,
	}

	var workers []*worker.Worker
	for i := 0; i < app.cfg.Scraper.Workers; i++ {
		w, err := worker.New(deps, workerCfg, app.logger.Named("worker").With(zap.Int("index", i)))
		if err != nil {
			return nil, fmt.Errorf("worker init failed: %w", err)
		}
		workers = append(workers, w)
	}
	app.logger.Info("worker pool ready", zap.Int("workers", len(workers)))
	return dispatcher.New(app.queue, workers), nil
}
