// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scholarship-crawler/internal/alerts"
	"github.com/JakeFAU/scholarship-crawler/internal/api"
	"github.com/JakeFAU/scholarship-crawler/internal/clock/system"
	"github.com/JakeFAU/scholarship-crawler/internal/config"
	"github.com/JakeFAU/scholarship-crawler/internal/convert"
	"github.com/JakeFAU/scholarship-crawler/internal/dedup"
	"github.com/JakeFAU/scholarship-crawler/internal/dispatcher"
	"github.com/JakeFAU/scholarship-crawler/internal/extract"
	"github.com/JakeFAU/scholarship-crawler/internal/fetch"
	"github.com/JakeFAU/scholarship-crawler/internal/id/uuid"
	"github.com/JakeFAU/scholarship-crawler/internal/index"
	"github.com/JakeFAU/scholarship-crawler/internal/llm/ollama"
	"github.com/JakeFAU/scholarship-crawler/internal/llm/openai"
	"github.com/JakeFAU/scholarship-crawler/internal/logging"
	"github.com/JakeFAU/scholarship-crawler/internal/metrics"
	"github.com/JakeFAU/scholarship-crawler/internal/pipeline"
	memorypublisher "github.com/JakeFAU/scholarship-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/scholarship-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/scholarship-crawler/internal/queue/memory"
	recordsMemory "github.com/JakeFAU/scholarship-crawler/internal/records/memory"
	"github.com/JakeFAU/scholarship-crawler/internal/records/postgres"
	"github.com/JakeFAU/scholarship-crawler/internal/records/sqlite"
	"github.com/JakeFAU/scholarship-crawler/internal/retrieval"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
	gcsstorage "github.com/JakeFAU/scholarship-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scholarship-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/scholarship-crawler/internal/storage/memory"
	"github.com/JakeFAU/scholarship-crawler/internal/worker"
)

// model is what both LLM providers implement.
type model interface {
	scholarship.Completer
	scholarship.Embedder
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	apiServer *api.Server
	pipeline  *pipeline.Pipeline
	router    *retrieval.Router
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	tasks     *memoryStorage.TaskStore
	records   scholarship.RecordStore
	clock     *system.Clock

	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(cfg.Location()),
		tasks:  memoryStorage.NewTaskStore(),
		queue:  queueMemory.NewQueue(cfg.Tasks.QueueDepth),
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("board", cfg.Crawler.BaseURL),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	if a.records, err = a.setupRecords(ctx); err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	llm, err := a.setupModel()
	if err != nil {
		return err
	}
	matcher, err := a.setupAlerts()
	if err != nil {
		return err
	}

	hashes, err := dedup.Open(ctx, blobStore, a.cfg.Dedup.Key, a.logger)
	if err != nil {
		return fmt.Errorf("known hash store init failed: %w", err)
	}
	vectors, err := index.Open(index.Config{
		Dir:          a.cfg.Index.Dir,
		ChunkSize:    a.cfg.Index.ChunkSize,
		ChunkOverlap: a.cfg.Index.ChunkOverlap,
		EmbedBatch:   a.cfg.Index.EmbedBatch,
	}, llm, a.logger)
	if err != nil {
		return fmt.Errorf("vector index init failed: %w", err)
	}

	extractor, err := extract.New(llm, a.cfg.LLM.ExtractionInputRunes, a.logger)
	if err != nil {
		return fmt.Errorf("extractor init failed: %w", err)
	}
	retry := fetch.RetryPolicy{
		MaxRetries: a.cfg.HTTP.MaxRetries,
		Initial:    time.Duration(a.cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		Multiplier: a.cfg.HTTP.BackoffMultiplier,
		Notify: func(err error, wait time.Duration) {
			a.logger.Warn("retrying upstream request", zap.Duration("wait", wait), zap.Error(err))
		},
	}
	fetcher := fetch.New(fetch.Config{
		UserAgent:      a.cfg.Crawler.UserAgent,
		RespectRobots:  a.cfg.Crawler.RespectRobots,
		MaxBodyBytes:   a.cfg.HTTP.MaxBodyBytes,
		DefaultTimeout: a.cfg.ListingTimeout(),
		RateLimitRPS:   a.cfg.HTTP.RateLimitRPS,
		RateLimitBurst: a.cfg.HTTP.RateLimitBurst,
		Retry:          retry,
	}, a.logger.Named("fetch"))
	converter := convert.New(convert.Config{
		URL:            a.cfg.Parser.URL,
		APIKey:         a.cfg.Parser.APIKey,
		Model:          a.cfg.Parser.Model,
		ConnectTimeout: time.Duration(a.cfg.Parser.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:    time.Duration(a.cfg.Parser.ReadTimeoutSeconds) * time.Second,
		Retry:          retry,
	}, a.logger)

	// One worker: the index has a single writer.
	w := worker.New(a.queue, a.tasks, vectors, worker.Config{
		MaxAttempts:  a.cfg.Tasks.MaxAttempts,
		RetryBackoff: time.Duration(a.cfg.Tasks.RetryBackoffMs) * time.Millisecond,
		TaskTimeout:  time.Duration(a.cfg.Tasks.TaskTimeoutMinutes) * time.Minute,
	}, a.logger)
	a.dispatch = dispatcher.New(a.queue, a.tasks, uuid.New(), a.clock, []*worker.Worker{w})

	a.pipeline, err = pipeline.New(pipeline.Config{
		BaseURL:           a.cfg.Crawler.BaseURL,
		ListPath:          a.cfg.Crawler.ListPath,
		CategorySeq:       a.cfg.Crawler.CategorySeq,
		Keyword:           a.cfg.Crawler.Keyword,
		MaxPages:          a.cfg.Crawler.MaxPages,
		MaxNotices:        a.cfg.Crawler.MaxNotices,
		ListingTimeout:    a.cfg.ListingTimeout(),
		DetailTimeout:     a.cfg.ListingTimeout(),
		AttachmentTimeout: a.cfg.AttachmentTimeout(),
	}, pipeline.Deps{
		Fetcher:   fetcher,
		Converter: converter,
		Extractor: extractor,
		Records:   a.records,
		Hashes:    hashes,
		Blobs:     blobStore,
		Publisher: publisher,
		Alerts:    matcher,
		Tasks:     a.dispatch,
		Indexed:   vectors,
		Clock:     a.clock,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	a.router, err = retrieval.New(llm, a.records, vectors, a.clock, retrieval.Config{
		TopK:          a.cfg.Index.TopK,
		ComposeAnswer: a.cfg.LLM.ComposeAnswer,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("router init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.pipeline, a.router, a.records, a.tasks, a.clock, *a.cfg, a.logger)
	return nil
}

// Refresh runs one crawl pass.
func (a *App) Refresh(ctx context.Context, keyword string) (scholarship.RefreshSummary, error) {
	summary, err := a.pipeline.Refresh(ctx, keyword)
	if err != nil {
		return summary, fmt.Errorf("refresh: %w", err)
	}
	return summary, nil
}

// Answer routes a question through the retrieval router.
func (a *App) Answer(ctx context.Context, question string) (retrieval.AnswerPayload, error) {
	payload, err := a.router.Answer(ctx, question)
	if err != nil {
		return payload, fmt.Errorf("answer: %w", err)
	}
	return payload, nil
}

// WaitTask polls the task store until the task reaches a terminal status.
func (a *App) WaitTask(ctx context.Context, id string) (scholarship.IndexTask, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := a.tasks.GetTask(ctx, id)
		if err != nil {
			return task, fmt.Errorf("get task %s: %w", id, err)
		}
		if task.Status.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// StartWorkers runs the index workers until ctx ends.
func (a *App) StartWorkers(ctx context.Context) {
	go a.dispatch.Run(ctx)
}

// Run serves HTTP and runs the index workers until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Close gracefully shuts down the application.
func (a *App) Close() {
	a.queue.Close()
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
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
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			a.logger.Warn("record store close failed", zap.Error(err))
		}
	}
}

func (a *App) setupStorage(ctx context.Context) (scholarship.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		a.logger.Warn("using in-memory storage backend; known hashes will not survive a restart")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupRecords(ctx context.Context) (scholarship.RecordStore, error) {
	db := a.cfg.Database
	switch db.Driver {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             db.DSN,
			Table:           db.Table,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres record store init failed: %w", err)
		}
		a.logger.Info("postgres record store initialized", zap.String("table", db.Table))
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, db.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite record store init failed: %w", err)
		}
		a.logger.Info("sqlite record store initialized", zap.String("path", db.DSN))
		return store, nil
	default:
		a.logger.Warn("using in-memory record store")
		return recordsMemory.New(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (scholarship.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(a.pubsubClient.Topic(a.cfg.PubSub.TopicName))
	a.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupModel() (model, error) {
	llm := a.cfg.LLM
	timeout := time.Duration(llm.TimeoutSeconds) * time.Second
	embedTimeout := time.Duration(llm.EmbedTimeoutSeconds) * time.Second
	switch llm.Provider {
	case "ollama":
		client, err := ollama.New(ollama.Config{
			BaseURL:      llm.BaseURL,
			ChatModel:    llm.ChatModel,
			PassageModel: llm.PassageModel,
			QueryModel:   llm.QueryModel,
			Timeout:      timeout,
			EmbedTimeout: embedTimeout,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("ollama client init failed: %w", err)
		}
		return client, nil
	default:
		client, err := openai.New(openai.Config{
			BaseURL:      llm.BaseURL,
			APIKey:       llm.APIKey,
			ChatModel:    llm.ChatModel,
			PassageModel: llm.PassageModel,
			QueryModel:   llm.QueryModel,
			Timeout:      timeout,
			EmbedTimeout: embedTimeout,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("openai client init failed: %w", err)
		}
		return client, nil
	}
}

func (a *App) setupAlerts() (*alerts.Matcher, error) {
	rules := make([]alerts.Rule, 0, len(a.cfg.Alerts.Rules))
	for _, r := range a.cfg.Alerts.Rules {
		rules = append(rules, alerts.Rule{Name: r.Name, Keywords: r.Keywords})
	}
	matcher, err := alerts.NewMatcher(rules)
	if err != nil {
		return nil, fmt.Errorf("alert rules init failed: %w", err)
	}
	if len(rules) > 0 {
		a.logger.Info("alert rules loaded", zap.Int("rules", len(rules)))
	}
	return matcher, nil
}
