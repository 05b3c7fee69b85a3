package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/shift-compliance/internal/application"
	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/config"
	httptransport "github.com/example/shift-compliance/internal/http"
	"github.com/example/shift-compliance/internal/logging"
	"github.com/example/shift-compliance/internal/notify"
	"github.com/example/shift-compliance/internal/notify/redisstream"
	"github.com/example/shift-compliance/internal/notify/webhook"
	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/persistence/memory"
	"github.com/example/shift-compliance/internal/persistence/sqlstore"
)

const usage = "usage: monitord [serve|sweep|migrate]"

func main() {
	logger := logging.New(os.Stdout, os.Getenv("LOG_LEVEL"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], logger); err != nil {
		logger.Error("monitord exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, logger *slog.Logger) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "serve", "sweep", "migrate":
	default:
		return fmt.Errorf("unknown command %q; %s", command, usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if command == "migrate" {
		logger.Info("migrations applied", "driver", cfg.DatabaseDriver)
		return nil
	}

	sink, closeSink, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	app := newApp(store, cfg, sink, uuid.NewString, clock.NewSystem(cfg.Location), logger)

	if command == "sweep" {
		report, err := app.monitor.RunSweep(ctx)
		if err != nil {
			return fmt.Errorf("compliance sweep: %w", err)
		}
		logger.Info("compliance sweep finished", "evaluated", report.Evaluated)
		return nil
	}
	return serve(ctx, cfg, app, logger)
}

// openStore selects the store for DATABASE_DRIVER. SQL stores are migrated
// before they are returned.
func openStore(ctx context.Context, cfg config.Config) (persistence.Store, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		return memory.New(), nil
	}
	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseDSN,
		MaxOpenConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return store, nil
}

// buildSink always logs notifications and fans out to Redis and the webhook
// when they are configured.
func buildSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (notify.Sink, func(), error) {
	sinks := notify.Multi{notify.LogSink{Logger: logger}}
	closeSink := func() {}

	if cfg.RedisAddr != "" {
		client, err := redisstream.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, redisstream.New(client, cfg.RedisStream))
		closeSink = func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, webhook.New(cfg.WebhookURL))
	}
	return sinks, closeSink, nil
}

type app struct {
	monitor *application.ComplianceMonitor
	handler http.Handler
}

func newApp(store persistence.Store, cfg config.Config, sink notify.Sink, ids func() string, clk clock.Clock, logger *slog.Logger) app {
	policy := cfg.Policy()
	loc := clk.Location()

	emitter := application.NewNotificationEmitterWithLogger(store, clk, ids, sink, logger)
	watcher := application.NewExcessHoursWatcherWithLogger(store, clk, emitter, policy, logger)
	directory := application.NewUserDirectoryWithLogger(store, clk, logger)
	monitor := application.NewComplianceMonitorWithLogger(store, clk, emitter, watcher, policy, logger)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Shifts:        httptransport.NewShiftHandler(application.NewShiftServiceWithLogger(store, clk, ids, policy, logger), loc, logger),
		Sessions:      httptransport.NewSessionHandler(application.NewSessionGateWithLogger(store, clk, ids, policy, watcher, logger), loc, logger),
		Courses:       httptransport.NewCourseHandler(application.NewCoursePlannerWithLogger(store, clk, ids, policy, emitter, logger), loc, logger),
		Compliance:    httptransport.NewComplianceHandler(monitor, loc, logger),
		Rooms:         httptransport.NewRoomHandler(application.NewRoomServiceWithLogger(store, clk, ids, logger), loc, logger),
		Users:         httptransport.NewUserHandler(directory, loc, logger),
		Notifications: httptransport.NewNotificationHandler(application.NewNotificationServiceWithLogger(store, clk, logger), loc, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.Timeout(cfg.RequestTimeout),
			httptransport.RequirePrincipal(directory, logger),
		},
	})
	return app{monitor: monitor, handler: handler}
}

func serve(ctx context.Context, cfg config.Config, a app, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	sweeperDone := make(chan error, 1)
	go func() {
		sweeperDone <- a.monitor.Run(ctx, cfg.SweepInterval)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("monitor API listening", "addr", server.Addr, "zone", cfg.Location.String())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return <-sweeperDone
}
