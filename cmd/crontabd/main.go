package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"crontabd/internal/api"
	"crontabd/internal/config"
	"crontabd/internal/core"
	"crontabd/internal/logging"
	crontabdmcp "crontabd/internal/mcp"
	"crontabd/internal/notify"
	"crontabd/internal/store"
	"crontabd/internal/trigger"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// Stdio transport owns stdout in mcp mode.
	logWriter := os.Stdout
	if cfg.Mode == "mcp" {
		logWriter = os.Stderr
	}
	logger := logging.NewWithWriter(cfg.LogLevel, logWriter)

	precision, err := core.ParsePrecision(cfg.Scheduler.Precision)
	if err != nil {
		logger.Error("invalid precision", "err", err)
		os.Exit(1)
	}

	manager := store.NewManager(cfg.StateDir, logger)
	defer manager.Close()

	crontab := core.NewCrontab(manager.ForTenant, logger, func(msg string, err error) {
		logger.Error("GRAVE -- shutting down", "reason", msg, "err", err)
		os.Exit(1)
	})

	baseCtx := context.Background()
	if err := crontab.LoadTenants(baseCtx, cfg.Tenants...); err != nil {
		logger.Error("load tenants", "err", err)
		os.Exit(1)
	}

	pool := core.NewPool(cfg.Scheduler.Workers)
	webhooks := trigger.NewWebhookTrigger(cfg.Scheduler.TriggerTimeout, logger)
	executor := core.NewTaskExecutor(pool, webhooks, logger)

	notifier := buildNotifier(cfg, logger)
	scheduler := core.NewScheduler(crontab, executor, pool, logger, core.SchedulerOptions{
		Precision:       precision,
		DefaultTimezone: cfg.Scheduler.DefaultTimezone,
		ErrorThreshold:  int64(cfg.Scheduler.ErrorThreshold),
		OnEvicted: func(entity core.TaskEntity) {
			body := fmt.Sprintf("task %s was evicted after %d consecutive trigger failures",
				entity.ID, entity.Task.ErrorCount)
			if err := notifier.Send(baseCtx, "crontabd task evicted", body); err != nil {
				logger.Warn("eviction notification failed", "task", entity.ID, "err", err)
			}
		},
	})

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("start scheduler", "err", err)
		os.Exit(1)
	}

	switch cfg.Mode {
	case "http":
		runHTTPMode(cfg, crontab, scheduler, logger)
	case "mcp":
		runMCPMode(cfg, crontab, scheduler, logger, cancel)
	case "both":
		runBothMode(cfg, crontab, scheduler, logger)
	}
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Warn("bark notifier disabled", "err", err)
		} else {
			notifiers = append(notifiers, bark)
		}
	}
	if len(notifiers) == 0 {
		return &notify.NoOpNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, crontab *core.Crontab, scheduler *core.Scheduler, logger *slog.Logger) {
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, crontab, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdown(cfg, server, scheduler, logger)
}

// runMCPMode starts only the MCP server.
func runMCPMode(cfg *config.Config, crontab *core.Crontab, scheduler *core.Scheduler, logger *slog.Logger, cancel context.CancelFunc) {
	mcpServer := crontabdmcp.NewMCPServer(crontab, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		logger.Info("received signal, shutting down")
		cancel()
		if err := scheduler.Stop(cfg.ShutdownGrace); err != nil {
			logger.Error("scheduler stop", "err", err)
		}
		os.Exit(0)
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
}

// runBothMode starts both HTTP and MCP servers.
func runBothMode(cfg *config.Config, crontab *core.Crontab, scheduler *core.Scheduler, logger *slog.Logger) {
	mcpServer := crontabdmcp.NewMCPServer(crontab, logger)
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, crontab, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdown(cfg, server, scheduler, logger)
}

func shutdown(cfg *config.Config, server *api.Server, scheduler *core.Scheduler, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	if err := scheduler.Stop(cfg.ShutdownGrace); err != nil {
		logger.Error("scheduler stop", "err", err)
	}
	logger.Info("shutdown complete")
}
