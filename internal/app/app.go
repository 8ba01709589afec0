// Package app wires configuration into the monitor's long-lived services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	"github.com/JakeFAU/bid-monitor/internal/clock/system"
	"github.com/JakeFAU/bid-monitor/internal/config"
	"github.com/JakeFAU/bid-monitor/internal/fetcher"
	"github.com/JakeFAU/bid-monitor/internal/health"
	"github.com/JakeFAU/bid-monitor/internal/id/uuid"
	"github.com/JakeFAU/bid-monitor/internal/ledger"
	fileledger "github.com/JakeFAU/bid-monitor/internal/ledger/file"
	gcsledger "github.com/JakeFAU/bid-monitor/internal/ledger/gcs"
	pgledger "github.com/JakeFAU/bid-monitor/internal/ledger/postgres"
	redisledger "github.com/JakeFAU/bid-monitor/internal/ledger/redis"
	"github.com/JakeFAU/bid-monitor/internal/lifecycle"
	"github.com/JakeFAU/bid-monitor/internal/logging"
	"github.com/JakeFAU/bid-monitor/internal/media"
	"github.com/JakeFAU/bid-monitor/internal/metrics"
	"github.com/JakeFAU/bid-monitor/internal/ocr/tesseract"
	"github.com/JakeFAU/bid-monitor/internal/pipeline"
	"github.com/JakeFAU/bid-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/bid-monitor/internal/processor"
	memorypublisher "github.com/JakeFAU/bid-monitor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/bid-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/bid-monitor/internal/remote/cbf"
	"github.com/JakeFAU/bid-monitor/internal/render"
	"github.com/JakeFAU/bid-monitor/internal/scheduler"
	gcsstorage "github.com/JakeFAU/bid-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/bid-monitor/internal/storage/local"
	memorystorage "github.com/JakeFAU/bid-monitor/internal/storage/memory"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	// limiter is shared by every outbound request, keyed by host.
	limiter *ratelimit.Limiter

	ledger     *ledger.Ledger
	renderer   *render.Renderer
	cycle      *pipeline.Cycle
	health     *health.Server
	supervisor *scheduler.Supervisor

	storage      *storage.Client
	pubsubClient *pubsub.Client
	topic        *pubsub.Topic

	metricsSrv      *http.Server
	metricsListener net.Listener
	metricsDone     chan struct{}

	closeOnce sync.Once
}

// Build creates the application's dependencies. Nothing touches the
// registry until a cycle runs.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Remote.RequestsPerSecond,
		DefaultBurst: cfg.Remote.Burst,
	})
	app := &App{cfg: cfg, logger: logger, clock: system.New(loc), limiter: limiter}
	app.logger.Info("building application dependencies",
		zap.String("ledger", cfg.Ledger.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.String("timezone", loc.String()),
	)

	if err := app.setupLedger(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	search, err := app.setupFetcher()
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	proc, err := app.setupProcessor(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.cycle, err = pipeline.New(pipeline.Config{
		Location:   loc,
		DateFormat: cfg.Remote.DateFormat,
		WorkDirs:   []string{cfg.Media.Dir, cfg.Render.Dir},
	}, app.ledger, search, proc, app.clock, uuid.New(), logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("cycle init failed: %w", err)
	}

	app.health = health.NewServer(health.Config{
		Port:    cfg.Health.Port,
		Service: cfg.Health.Service,
	}, app.clock, logger)

	app.supervisor, err = scheduler.New(scheduler.Config{
		Interval:     cfg.Schedule.Interval,
		PollInterval: cfg.Schedule.PollInterval,
		JoinTimeout:  cfg.Schedule.JoinTimeout,
	}, app.runCycle, app.clock, app.health, logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("supervisor init failed: %w", err)
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunOnce executes a single cycle without the scheduler.
func (a *App) RunOnce(ctx context.Context) (pipeline.Report, error) {
	return a.cycle.Run(ctx)
}

// Monitor starts the metrics listener and the supervisor, then blocks until
// a signal arrives, ctx ends or the supervisor stops. Signals are honored
// during the initial check too. In immediate shutdown mode a signal exits
// the process from inside the wait.
func (a *App) Monitor(ctx context.Context, signals <-chan os.Signal) error {
	mode, err := lifecycle.ParseMode(a.cfg.Shutdown.Mode)
	if err != nil {
		return err
	}
	if err := a.startMetrics(); err != nil {
		a.logger.Warn("metrics server unavailable", zap.Error(err))
	}

	waiter := lifecycle.NewWaiter(lifecycle.Config{
		CheckInterval: a.cfg.Schedule.MainCheckInterval,
		Mode:          mode,
	}, a.logger)
	waiter.Run(ctx, a.supervisor, signals)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Close(shutdownCtx)
}

func (a *App) runCycle(ctx context.Context) error {
	_, err := a.cycle.Run(ctx)
	return err
}

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (a *App) MetricsAddr() string {
	if a.metricsListener == nil {
		return ""
	}
	return a.metricsListener.Addr().String()
}

func (a *App) startMetrics() error {
	if a.cfg.Metrics.Port == 0 || a.metricsSrv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Metrics.Port))
	if err != nil {
		return fmt.Errorf("listen metrics port %d: %w", a.cfg.Metrics.Port, err)
	}
	srv := &http.Server{
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	a.metricsSrv, a.metricsListener, a.metricsDone = srv, ln, done
	go func() {
		defer close(done)
		a.logger.Info("metrics server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Close gracefully shuts down the application. Later calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.close(ctx) })
	return nil
}

func (a *App) close(ctx context.Context) {
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		<-a.metricsDone
		a.metricsSrv, a.metricsListener = nil, nil
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.topic != nil {
		a.topic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("ledger close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

func (a *App) storageClient(ctx context.Context) (*storage.Client, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.storage = client
	return client, nil
}

func (a *App) setupLedger(ctx context.Context) error {
	cfg := a.cfg.Ledger
	var (
		store ledger.Store
		err   error
	)
	switch cfg.Provider {
	case "file":
		store, err = fileledger.New(fileledger.Config{Path: cfg.File.Path})
	case "gcs":
		var client *storage.Client
		if client, err = a.storageClient(ctx); err != nil {
			return err
		}
		var blobs *gcsstorage.BlobStore
		if blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCS.Bucket}); err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		store, err = gcsledger.New(blobs, cfg.GCS.Object)
	case "postgres":
		store, err = pgledger.New(ctx, pgledger.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
	case "redis":
		store, err = redisledger.New(redisledger.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	default:
		return fmt.Errorf("unknown ledger provider %q", cfg.Provider)
	}
	if err != nil {
		return fmt.Errorf("%s ledger init failed: %w", cfg.Provider, err)
	}
	a.ledger = ledger.New(store, a.logger)
	return nil
}

func (a *App) setupFetcher() (*fetcher.Fetcher, error) {
	cfg := a.cfg
	client, err := cbf.New(cbf.Config{
		BaseURL:     cfg.Remote.BaseURL,
		TokenPath:   cfg.Remote.TokenPath,
		CaptchaPath: cfg.Remote.CaptchaPath,
		SearchPath:  cfg.Remote.SearchPath,
		UserAgent:   cfg.Remote.UserAgent,
		Timeout:     cfg.Remote.Timeout,
		Fields: cbf.FormFields{
			Token:   cfg.Remote.Fields.Token,
			Captcha: cfg.Remote.Fields.Captcha,
			Date:    cfg.Remote.Fields.Date,
		},
	}, a.limiter, a.logger)
	if err != nil {
		return nil, fmt.Errorf("registry client init failed: %w", err)
	}
	recognizer := tesseract.New(tesseract.Config{
		Binary:    cfg.OCR.Binary,
		PSM:       cfg.OCR.PSM,
		Whitelist: cfg.OCR.Whitelist,
		Timeout:   cfg.OCR.Timeout,
	}, a.logger)

	f, err := fetcher.New(fetcher.Config{
		MaxAttempts:      cfg.Fetch.MaxAttempts,
		MinCaptchaLength: cfg.Fetch.MinCaptchaLength,
		RejectionDelay:   cfg.Fetch.RejectionDelay,
	}, fetcher.Deps{
		Session:    client,
		Challenges: client,
		Recognizer: recognizer,
		Searcher:   client,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}
	a.logger.Info("registry fetcher ready",
		zap.String("base_url", cfg.Remote.BaseURL),
		zap.Int("max_attempts", f.MaxAttempts()),
	)
	return f, nil
}

func (a *App) setupProcessor(ctx context.Context) (*processor.Processor, error) {
	cfg := a.cfg
	photos, err := media.NewPhotoFetcher(media.Config{
		URLTemplate: cfg.Media.PhotoURLTemplate,
		Dir:         cfg.Media.Dir,
		UserAgent:   cfg.Remote.UserAgent,
		Timeout:     cfg.Remote.Timeout,
	}, a.limiter, a.logger)
	if err != nil {
		return nil, fmt.Errorf("media fetcher init failed: %w", err)
	}
	a.renderer, err = render.NewChromedp(render.Config{
		Dir:      cfg.Render.Dir,
		Width:    cfg.Render.Width,
		Height:   cfg.Render.Height,
		Timeout:  cfg.Render.Timeout,
		ExecPath: cfg.Render.ExecPath,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}
	poster, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	proc, err := processor.New(processor.Deps{
		Media:    photos,
		Renderer: a.renderer,
		Poster:   poster,
		Cleaner:  media.NewCleaner(a.logger),
		Ledger:   a.ledger,
		Clock:    a.clock,
	}, cfg.Process.RecordPause, a.logger)
	if err != nil {
		return nil, fmt.Errorf("processor init failed: %w", err)
	}
	return proc, nil
}

func (a *App) setupPublisher(ctx context.Context) (bid.Poster, error) {
	cfg := a.cfg.Publisher
	switch cfg.Provider {
	case "memory":
		a.logger.Warn("using in-memory publisher, posts are only logged")
		archive := memorystorage.NewBoundedBlobStore(memorypublisher.DefaultRetention)
		return memorypublisher.New(archive, cfg.Prefix, a.clock, a.logger), nil
	case "local":
		archive, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local card archive init failed: %w", err)
		}
		a.logger.Info("archiving cards locally", zap.String("dir", cfg.Dir))
		return memorypublisher.New(archive, cfg.Prefix, a.clock, a.logger), nil
	case "pubsub":
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		archive, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs card archive init failed: %w", err)
		}
		a.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.topic = a.pubsubClient.Topic(cfg.TopicID)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.TopicID),
			zap.String("bucket", cfg.Bucket),
		)
		p, err := gcppublisher.New(a.topic, archive, cfg.Prefix, a.clock, a.logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown publisher provider %q", cfg.Provider)
	}
}
