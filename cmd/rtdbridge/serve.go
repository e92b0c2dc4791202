package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v2"

	"github.com/rickgao/rtdbridge/internal/auth"
	"github.com/rickgao/rtdbridge/internal/config"
	"github.com/rickgao/rtdbridge/internal/database"
	"github.com/rickgao/rtdbridge/internal/feed"
	"github.com/rickgao/rtdbridge/internal/journal"
	"github.com/rickgao/rtdbridge/internal/metrics"
	"github.com/rickgao/rtdbridge/internal/provider/simfeed"
	"github.com/rickgao/rtdbridge/internal/provider/wsfeed"
	"github.com/rickgao/rtdbridge/internal/reconnect"
	"github.com/rickgao/rtdbridge/internal/registry"
	"github.com/rickgao/rtdbridge/internal/transport"
	"github.com/rickgao/rtdbridge/internal/version"
)

const readHeaderTimeout = 10 * time.Second

func runServe(c *cli.Context) error {
	logger, err := setupLogging()
	if err != nil {
		return err
	}

	logger.Info("starting rtdbridge",
		"version", version.Version,
		"commit", version.Commit,
		"config", cmdArgs.ConfigFile,
	)

	cfg, err := config.LoadAndValidate(cmdArgs.ConfigFile)
	if err != nil {
		return err
	}
	logger = logger.With("instance_id", cfg.Instance.ID)

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	scheduler, err := reconnect.NewScheduler(reconnect.Config{
		Policy:     cfg.Reconnect.Policy,
		Delay:      cfg.Reconnect.Delay,
		MaxDelay:   cfg.Reconnect.MaxDelay,
		Multiplier: cfg.Reconnect.Multiplier,
		Jitter:     cfg.Reconnect.Jitter,
	}, logger)
	if err != nil {
		return fmt.Errorf("create reconnect scheduler: %w", err)
	}

	m := metrics.New(nil)
	observers := []registry.Observer{m}

	var (
		pool *pgxpool.Pool
		jrnl *journal.Journal
		db   pinger
	)
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		store := journal.NewPGStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		jrnl = journal.New(journal.Config{
			Instance:      cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, store, logger)
		if err := jrnl.Start(context.Background()); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		observers = append(observers, jrnl)
		db = store
	}

	srv := transport.NewServer(transport.Config{
		ReadLimit:      cfg.Server.ReadLimit,
		WriteTimeout:   cfg.Server.WriteTimeout,
		PingInterval:   cfg.Server.PingInterval,
		PongTimeout:    cfg.Server.PongTimeout,
		RateLimit:      cfg.Limits.InboundRate,
		RateBurst:      cfg.Limits.InboundBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	regCfg := registry.DefaultConfig()
	regCfg.Session = feed.Config{
		HeartbeatInterval: cfg.Feed.HeartbeatInterval,
		CallTimeout:       cfg.Feed.CallTimeout,
	}
	regCfg.EventBuffer = cfg.Limits.EventBuffer

	reg := registry.New(regCfg, provider, srv, scheduler, logger,
		registry.WithRecorder(m),
		registry.WithObservers(observers...),
	)
	if err := reg.Start(context.Background()); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}

	bridgeMux := http.NewServeMux()
	bridgeMux.Handle(cfg.Server.Path, srv.Handler(reg))
	bridgeServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           bridgeMux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newOpsHandler(cfg.Instance.ID, reg, db, m, cfg.Metrics.Path),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	startServer(&lifecycle, logger, "bridge", bridgeServer, cancel)
	startServer(&lifecycle, logger, "ops", opsServer, cancel)

	logger.Info("rtdbridge running",
		"listen", cfg.Server.Listen,
		"path", cfg.Server.Path,
		"feed_kind", cfg.Feed.Kind,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	step := func(name string, fn func(context.Context) error) {
		logger.Info("shutdown: " + name)
		if err := fn(shutdownCtx); err != nil {
			logger.Warn("shutdown step failed", "step", name, "error", err)
		}
	}

	step("stopping bridge listener", bridgeServer.Shutdown)
	step("closing consumer connections", srv.Shutdown)
	step("stopping registry", reg.Shutdown)
	if jrnl != nil {
		step("flushing journal", jrnl.Stop)
	}
	step("stopping ops server", opsServer.Shutdown)
	lifecycle.Wait()

	logger.Info("rtdbridge stopped")
	return nil
}

func buildProvider(cfg *config.Config, logger *slog.Logger) (feed.Provider, error) {
	switch cfg.Feed.Kind {
	case "simulated":
		return simfeed.New(simfeed.Config{
			Interval: cfg.Feed.Simulated.Interval,
			Start:    cfg.Feed.Simulated.Start,
			Step:     cfg.Feed.Simulated.Step,
		}, logger), nil
	case "websocket":
		var creds *auth.Credentials
		if cfg.Feed.KeyID != "" {
			var err error
			creds, err = auth.LoadCredentials(cfg.Feed.KeyID, cfg.Feed.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("load feed credentials: %w", err)
			}
		}
		return wsfeed.New(wsfeed.Config{
			URL:              cfg.Feed.URL,
			HandshakeTimeout: cfg.Feed.HandshakeTimeout,
			UserAgent:        version.UserAgent(),
		}, creds, logger), nil
	default:
		return nil, fmt.Errorf("unknown feed kind %q", cfg.Feed.Kind)
	}
}

// startServer runs srv until it is shut down. A listener failure cancels
// the run so the process exits instead of idling.
func startServer(lifecycle *conc.WaitGroup, logger *slog.Logger, name string, srv *http.Server, cancel context.CancelFunc) {
	lifecycle.Go(func() {
		logger.Info("starting http server", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "server", name, "error", err)
			cancel()
		}
	})
}
