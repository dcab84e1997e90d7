// Package server is the composition root: it builds the ingest service from
// configuration and runs it until shutdown.
package server

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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sitechat/ingest/internal/api"
	"github.com/sitechat/ingest/internal/chunk"
	"github.com/sitechat/ingest/internal/clock/system"
	"github.com/sitechat/ingest/internal/config"
	"github.com/sitechat/ingest/internal/embed/openai"
	"github.com/sitechat/ingest/internal/extract"
	collyfetcher "github.com/sitechat/ingest/internal/fetcher/colly"
	headlessfetcher "github.com/sitechat/ingest/internal/fetcher/headless"
	"github.com/sitechat/ingest/internal/hash/sha256"
	"github.com/sitechat/ingest/internal/headless/detector"
	idgen "github.com/sitechat/ingest/internal/id/uuid"
	lockmem "github.com/sitechat/ingest/internal/lock/memory"
	lockredis "github.com/sitechat/ingest/internal/lock/redis"
	"github.com/sitechat/ingest/internal/logging"
	"github.com/sitechat/ingest/internal/metrics"
	"github.com/sitechat/ingest/internal/orchestrator"
	"github.com/sitechat/ingest/internal/pipeline"
	"github.com/sitechat/ingest/internal/policy/ratelimit"
	"github.com/sitechat/ingest/internal/policy/simple"
	"github.com/sitechat/ingest/internal/progress"
	progresssinks "github.com/sitechat/ingest/internal/progress/sinks"
	memorypublisher "github.com/sitechat/ingest/internal/publisher/memory"
	gcppublisher "github.com/sitechat/ingest/internal/publisher/pubsub"
	gcsstorage "github.com/sitechat/ingest/internal/storage/gcs"
	localstorage "github.com/sitechat/ingest/internal/storage/local"
	memorystorage "github.com/sitechat/ingest/internal/storage/memory"
	"github.com/sitechat/ingest/internal/storage/postgres"
	s3storage "github.com/sitechat/ingest/internal/storage/s3"
)

// App contains the assembled service.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	runner    *orchestrator.Runner
	apiServer *api.Server

	progressHub     *progress.Hub
	headless        *headlessfetcher.Fetcher
	pool            *pgxpool.Pool
	redisClient     *redis.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	gcsClient       *storage.Client
}

// Build assembles the service from configuration.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	clock := system.New()
	ids := idgen.New()

	jobs, pages, pageErrors, err := app.setupStores(ctx, clock, ids)
	if err != nil {
		return nil, err
	}
	locker, err := app.setupLocker(ctx, clock)
	if err != nil {
		return nil, err
	}
	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := app.setupProgress(ctx, pageErrors, ids)
	if err != nil {
		return nil, err
	}

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.RequestTimeout,
	})
	var headless pipeline.Fetcher
	if cfg.Headless.Enabled {
		app.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		headless = app.headless
		logger.Info("headless fetcher enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	var policy pipeline.Policy
	if cfg.RateLimit.Enabled {
		policy = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
	} else {
		policy = simple.New(0)
	}

	embedder := openai.New(openai.Config{
		BaseURL:     cfg.Embedding.BaseURL,
		APIKey:      cfg.Embedding.APIKey,
		Model:       cfg.Embedding.Model,
		Dimensions:  cfg.Embedding.Dimensions,
		BatchSize:   cfg.Embedding.BatchSize,
		Timeout:     cfg.Embedding.Timeout,
		MaxAttempts: cfg.Embedding.MaxAttempts,
	}, logger.Named("embedder"))

	orch := orchestrator.New(orchestrator.Config{
		Workers:         cfg.Crawler.Workers,
		MaxDepth:        cfg.Crawler.MaxDepth,
		MaxPages:        cfg.Crawler.MaxPages,
		LockTTL:         cfg.Lock.TTL,
		SnapshotPrefix:  cfg.Storage.Prefix,
		EventTopic:      cfg.PubSub.Topic,
		HeadlessEnabled: cfg.Headless.Enabled,
	}, orchestrator.Deps{
		Jobs:      jobs,
		Pages:     pages,
		Locker:    locker,
		Fetcher:   probe,
		Headless:  headless,
		Detector:  detector.NewHeuristic(cfg.Detector.MinHTMLBytes),
		Extractor: extract.New(),
		Chunker:   chunk.New(cfg.Chunker.Size, cfg.Chunker.Overlap),
		Hasher:    sha256.New(),
		Embedder:  embedder,
		Policy:    policy,
		Blobs:     blobs,
		Publisher: publisher,
		Progress:  emitter,
		Clock:     clock,
		IDs:       ids,
		Retry:     pipeline.NewExponentialRetryPolicy(0, 0, 0),
		Logger:    logger.Named("orchestrator"),
	})
	app.runner = orchestrator.NewRunner(orch, cfg.Crawler.MaxJobs)

	app.apiServer = api.NewServer(api.Config{
		APIKey: cfg.Server.APIKey,
	}, app.runner, pageErrors, app.readiness, logger.Named("api"))

	return app, nil
}

// Run serves HTTP until SIGINT/SIGTERM, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Runner exposes the crawl runner for CLI use.
func (a *App) Runner() *orchestrator.Runner {
	return a.runner
}

// Close stops in-flight crawls and releases external clients.
func (a *App) Close(ctx context.Context) error {
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			a.logger.Warn("runner shutdown incomplete", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
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
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}

// readiness pings the external stores the service was configured with.
func (a *App) readiness(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) setupStores(ctx context.Context, clock pipeline.Clock, ids pipeline.IDGenerator) (pipeline.JobStore, pipeline.PageStore, pipeline.PageErrorStore, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory stores")
		return memorystorage.NewJobStore(clock), memorystorage.NewPageStore(ids), memorystorage.NewPageErrorStore(), nil
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool

	if err := postgres.EnsureSchema(ctx, pool, a.cfg.Embedding.Dimensions); err != nil {
		return nil, nil, nil, fmt.Errorf("ensure schema failed: %w", err)
	}
	jobs, err := postgres.NewJobStore(pool, clock)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("job store init failed: %w", err)
	}
	pages, err := postgres.NewPageStore(pool, ids)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("page store init failed: %w", err)
	}
	pageErrors, err := postgres.NewPageErrorStore(pool)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("page error store init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized")
	return jobs, pages, pageErrors, nil
}

func (a *App) setupLocker(ctx context.Context, clock pipeline.Clock) (pipeline.DomainLocker, error) {
	if a.cfg.Redis.Addr == "" {
		a.logger.Warn("no redis address configured, using in-memory domain locks")
		return lockmem.New(clock), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	a.redisClient = client
	a.logger.Info("redis domain locks initialized", zap.String("addr", a.cfg.Redis.Addr))
	return lockredis.New(client), nil
}

func (a *App) setupBlobStore(ctx context.Context) (pipeline.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		a.logger.Info("gcs snapshot archive", zap.String("bucket", a.cfg.Storage.Bucket))
		return gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
	case "s3":
		a.logger.Info("s3 snapshot archive", zap.String("bucket", a.cfg.Storage.Bucket))
		return s3storage.New(ctx, s3storage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Region: a.cfg.Storage.Region,
		})
	case "local":
		a.logger.Info("local snapshot archive", zap.String("base_dir", a.cfg.Storage.Local.BaseDir))
		return localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
	default:
		a.logger.Info("in-memory snapshot archive")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (pipeline.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Warn("no pub/sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = client.Publisher(a.cfg.PubSub.Topic)
	a.logger.Info("pub/sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic))
	return gcppublisher.New(a.pubsubPublisher), nil
}

func (a *App) setupProgress(ctx context.Context, pageErrors pipeline.PageErrorStore, ids pipeline.IDGenerator) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	sinks := []progress.Sink{
		progresssinks.NewStoreSink(pageErrors, ids, a.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinks = append(sinks, promSink)
	if a.cfg.Progress.LogEnabled {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}

	a.progressHub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}, sinks...)
	return a.progressHub, nil
}
