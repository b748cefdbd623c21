// Package app wires the docpipeline service together and runs the
// dispatcher, worker pool, recurring trigger and HTTP server under one
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/docpipeline/internal/api"
	"github.com/jdziat/docpipeline/internal/config"
	"github.com/jdziat/docpipeline/internal/docs"
	"github.com/jdziat/docpipeline/internal/files"
	"github.com/jdziat/docpipeline/internal/jobs"
	"github.com/jdziat/docpipeline/internal/notify"
	"github.com/jdziat/docpipeline/pkg/dispatch"
	"github.com/jdziat/docpipeline/pkg/handler"
	"github.com/jdziat/docpipeline/pkg/queue"
	"github.com/jdziat/docpipeline/pkg/retry"
	"github.com/jdziat/docpipeline/pkg/storage"
	"github.com/jdziat/docpipeline/pkg/trigger"
	"github.com/jdziat/docpipeline/pkg/worker"
)

// CleanupRule is the name of the recurring cleanup rule.
const CleanupRule = "nightly-cleanup"

// App holds the wired components.
type App struct {
	config *config.Config
	logger *slog.Logger

	db       *gorm.DB
	store    *storage.GormStorage
	docs     *docs.Repository
	files    *files.LocalStorage
	registry *handler.Registry
	queue    *queue.Queue

	pool       *worker.Pool
	dispatcher *dispatch.Dispatcher
	trigger    *trigger.Trigger
	server     *api.Server
}

// Option configures an App.
type Option interface {
	applyApp(*App)
}

type optionFunc func(*App)

func (f optionFunc) applyApp(a *App) { f(a) }

// WithDB uses db instead of opening the configured database.
func WithDB(db *gorm.DB) Option {
	return optionFunc(func(a *App) {
		a.db = db
	})
}

// New opens the database and builds every component. Nothing runs until Run.
func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{config: cfg, logger: log}
	for _, opt := range opts {
		opt.applyApp(a)
	}

	fs, err := files.NewLocalStorage(cfg.Storage.UploadPath, cfg.Storage.PdfPath,
		files.WithLogger(log.With("component", "files")))
	if err != nil {
		return nil, err
	}
	a.files = fs

	loc, err := cfg.Cleanup.Location()
	if err != nil {
		return nil, err
	}

	if a.db == nil {
		db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN,
			logger.Default.LogMode(logger.Warn),
			storage.MaxOpenConns(cfg.Database.MaxOpenConns),
			storage.MaxIdleConns(cfg.Database.MaxIdleConns),
		)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
	}

	policy := retry.Policy{Delays: cfg.Retry.Delays, Attempts: cfg.Retry.MaxAttempts}

	a.store = storage.NewGormStorage(a.db)
	a.docs = docs.NewRepository(a.db)
	a.registry = handler.NewRegistry()

	handlers := jobs.New(a.docs, fs, fs,
		notify.NewLogNotifier(cfg.Notify.PerSecond, cfg.Notify.Burst, log.With("component", "notify")),
		a.store,
		jobs.OnMissingDocument(jobs.MissingDocument(cfg.Jobs.MissingDocument)),
		jobs.ConversionTimeout(cfg.Jobs.ConversionTimeout),
		jobs.NoticeTimeout(cfg.Jobs.NoticeTimeout),
		jobs.Cleanup(jobs.CleanupOptions{
			Retention:    cfg.Cleanup.Retention(),
			FailedOnly:   cfg.Cleanup.FailedOnly,
			SweepOrphans: cfg.Cleanup.SweepOrphans,
		}),
	)
	if err := handlers.Register(a.registry); err != nil {
		return nil, err
	}

	a.queue = queue.New(a.store,
		queue.WithRegistry(a.registry),
		queue.WithDefaultMaxAttempts(policy.MaxAttempts()),
	)

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = defaultWorkerID()
	}
	a.pool = worker.NewPool(a.store, a.registry, a.queue,
		worker.WorkerID(workerID),
		worker.Concurrency(cfg.Worker.Concurrency),
		worker.Policy(policy),
		worker.ShutdownGrace(cfg.Worker.ShutdownGrace),
		worker.Logger(log.With("component", "worker")),
	)
	a.dispatcher = dispatch.New(a.store, a.pool,
		dispatch.PollInterval(cfg.Worker.PollInterval),
		dispatch.BatchSize(cfg.Worker.BatchSize),
		dispatch.VisibilityTimeout(cfg.Worker.VisibilityTimeout),
		dispatch.Logger(log.With("component", "dispatch")),
	)
	a.queue.OnEnqueue(a.dispatcher.NotifyEnqueued)

	a.trigger = trigger.New(a.store,
		trigger.TickInterval(cfg.Cleanup.TickInterval),
		trigger.Location(loc),
		trigger.MaxAttempts(policy.MaxAttempts()),
		trigger.Logger(log.With("component", "trigger")),
	)

	a.server = api.NewServer(a.docs, fs, a.queue, a.store,
		api.ConversionDelay(cfg.Jobs.ConversionDelay),
		api.MaxUploadBytes(cfg.Server.MaxUploadBytes),
		api.Logger(log.With("component", "api")),
		api.WithHealthCheck(api.DatabaseCheck(a.docs)),
		api.WithHealthCheck(api.JobsCheck(a.store)),
		api.WithHealthCheck(api.StorageCheck(fs)),
	)
	return a, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// Store returns the job store.
func (a *App) Store() *storage.GormStorage {
	return a.store
}

// Queue returns the enqueue facade.
func (a *App) Queue() *queue.Queue {
	return a.queue
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Migrate creates the job and domain tables.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	return a.docs.Migrate(ctx)
}

// Close releases the database connection.
func (a *App) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.config.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve migrates, registers the cleanup rule and runs every component until
// ctx is done or one of them fails. The HTTP server stops accepting first;
// the pool then drains within its shutdown grace period.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.Migrate(ctx); err != nil {
		ln.Close()
		return err
	}
	if err := a.trigger.Register(ctx, CleanupRule, a.config.Cleanup.Schedule, jobs.KindCleanup, jobs.CleanupPayload{}); err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(a.pool.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(a.dispatcher.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(a.trigger.Run(gctx)) })
	g.Go(func() error {
		a.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.Worker.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.logger.Info("docpipeline stopped")
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
