package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/podkeeper/episode_downloader/internal/cleanup"
	"github.com/podkeeper/episode_downloader/internal/config"
	"github.com/podkeeper/episode_downloader/internal/constraint"
	"github.com/podkeeper/episode_downloader/internal/download"
	"github.com/podkeeper/episode_downloader/internal/fetcher"
	"github.com/podkeeper/episode_downloader/internal/http/rest"
	"github.com/podkeeper/episode_downloader/internal/logctx"
	"github.com/podkeeper/episode_downloader/internal/notification"
	"github.com/podkeeper/episode_downloader/internal/progress"
	"github.com/podkeeper/episode_downloader/internal/scheduler"
	"github.com/podkeeper/episode_downloader/internal/shownotes"
	"github.com/podkeeper/episode_downloader/internal/storage/sqlite"
	"github.com/podkeeper/episode_downloader/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("episode downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	repo := sqlite.NewEpisodeRepository(database)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Download Manager
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	cache := progress.NewCache()
	observer := notification.NewObserver(cache, buildSink(cfg))

	var notesClient *shownotes.Client
	if cfg.ShowNotesBaseURL != "" {
		notesClient = shownotes.NewClient(cfg.ShowNotesBaseURL, cfg.UserAgent)
	}

	fetch := fetcher.New(fetcher.DefaultClient(cfg.DownloadTimeout), cfg.UserAgent)
	tasks := download.NewTasks(repo, fetch, cache, observer, notesClient,
		cfg.DownloadDir, cfg.TempDir, cfg.MaxDownloadAttempts)

	sched := scheduler.New(cfg.MaxParallel, cfg.RetryBackoffBase)

	queue := download.NewQueueController(repo, sched, cache, tasks, download.Settings{
		AutoDownloadUnmeteredOnly: cfg.AutoDownloadUnmeteredOnly,
		AutoDownloadOnlyCharging:  cfg.AutoDownloadOnlyCharging,
	})
	status := download.NewStatusController(repo, cfg.MaxDownloadAttempts)

	monitor := constraint.NewMonitor(nil,
		constraint.HostProbes(cfg.DownloadDir, cfg.MinFreeStorageBytes),
		cfg.ConstraintPollInterval,
	)

	manager := download.NewManager(queue, status, sched, monitor, cache, tel)

	server := setupServer(ctx, manager, repo, tel, cfg)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return manager.Run(gctx)
	})

	group.Go(func() error {
		cleanup.Run(gctx, cfg.TempDir, cfg.TempCleanupInterval, cfg.TempRetention)

		return nil
	})

	group.Go(func() error {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	logger.Info("waiting for download requests...",
		"download_dir", cfg.DownloadDir,
		"max_parallel", cfg.MaxParallel,
		"constraint_poll_interval", cfg.ConstraintPollInterval.String(),
	)

	return group.Wait()
}

// buildSink combines the always-on log sink with the Discord webhook when
// one is configured.
func buildSink(cfg *config.Config) notification.Sink {
	if cfg.DiscordWebhookURL == "" {
		return notification.LogSink{}
	}

	return notification.Combine(
		notification.LogSink{},
		&notification.DiscordSink{WebhookURL: cfg.DiscordWebhookURL},
	)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	manager *download.Manager,
	repo *sqlite.EpisodeRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewDownloadsHandler(manager, repo, tel)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "episode_downloader"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
