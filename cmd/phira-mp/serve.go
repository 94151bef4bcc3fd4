// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FireflyF09/phira-mp/internal/command"
	"github.com/FireflyF09/phira-mp/internal/config"
	"github.com/FireflyF09/phira-mp/internal/engine"
	"github.com/FireflyF09/phira-mp/internal/events"
	"github.com/FireflyF09/phira-mp/internal/host"
	"github.com/FireflyF09/phira-mp/internal/hotreload"
	"github.com/FireflyF09/phira-mp/internal/logging"
	"github.com/FireflyF09/phira-mp/internal/monitor"
	"github.com/FireflyF09/phira-mp/internal/observability"
	"github.com/FireflyF09/phira-mp/internal/plugin"
	"github.com/FireflyF09/phira-mp/internal/plugin/sandbox"
	"github.com/FireflyF09/phira-mp/internal/xdg"
	"github.com/FireflyF09/phira-mp/pkg/errutil"
)

// shutdownTimeout bounds graceful shutdown of the observability server.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve command, which runs the plugin host
// until interrupted.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFile
			if path == "" {
				// Fall back to the XDG config file when present.
				if candidate := xdg.DefaultConfigPath(); fileExists(candidate) {
					path = candidate
				}
			}
			cfg, err := config.Load(path, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	// Flag names mirror configuration keys so the posflag provider can
	// overlay them directly.
	cmd.Flags().String("plugins.dir", "", "plugin directory")
	cmd.Flags().String("metrics.addr", "", "observability listen address (empty disables)")
	cmd.Flags().String("log.level", "", "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", "", "log format (json, text)")
	cmd.Flags().Bool("hot_reload.enabled", false, "watch the plugin directory for changes")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logging.SetDefault("phira-mp", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	logger := slog.Default()

	logger.Info("starting plugin host",
		"version", version,
		"plugin_dir", cfg.Plugins.Dir,
		"abi_version", cfg.Plugins.ABIVersion,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := events.NewBus(logger)
	registry := command.NewRegistry(logger)
	sandboxes := sandbox.NewManager()
	eng := engine.NewWASMEngine(logger)

	manager, err := plugin.NewManager(
		cfg.Plugins.Dir, cfg.Plugins.ABIVersion, eng, bus, registry, sandboxes, logger)
	if err != nil {
		return err
	}

	state := host.NewState()
	api := host.NewAPI(bus, registry, state, logger)
	api.SetManager(manager)
	if err := host.NewServerCommands(api).RegisterAll(registry); err != nil {
		return err
	}

	collector := monitor.NewCollector(cfg.Monitor.HistorySize, cfg.AggregationInterval(), logger)
	health := monitor.NewHealthMonitor(monitor.DefaultThresholds(), collector, cfg.Monitor.HistorySize)
	trackPluginLifecycle(bus, collector)

	var ready atomic.Bool
	var obs *observability.Server
	var obsErrs <-chan error
	if cfg.Metrics.Addr != "" {
		obs = observability.NewServer(cfg.Metrics.Addr, ready.Load, health)
		obsErrs, err = obs.Start()
		if err != nil {
			return err
		}
		logger.Info("observability server listening", "addr", obs.Addr())
		go func() {
			if serveErr, ok := <-obsErrs; ok && serveErr != nil {
				errutil.LogError(logger, "observability server failed", serveErr)
				cancel()
			}
		}()
	}

	loaded, err := manager.ScanAndLoad(ctx)
	if err != nil {
		errutil.LogError(logger, "scanning plugin directory", err)
	}
	logger.Info("plugins loaded", "count", loaded)

	if err := manager.InitializeAll(ctx); err != nil {
		errutil.LogError(logger, "initializing plugins", err)
	}
	if cfg.Plugins.AutoStart {
		if err := manager.StartAll(ctx); err != nil {
			errutil.LogError(logger, "starting plugins", err)
		}
	}

	reloader, err := hotreload.NewManager(manager, bus, cfg.HotReloadConfig(), logger)
	if err != nil {
		return err
	}
	if err := reloader.Start(ctx); err != nil {
		return err
	}

	go monitorLoop(ctx, collector, health, sandboxes, manager, logger, cfg.AggregationInterval())

	ready.Store(true)
	bus.Emit(events.NewSystem(events.ServerStart, map[string]any{
		"version": version,
		"plugins": loaded,
	}))
	logger.Info("plugin host ready")

	waitForShutdown(ctx, logger)
	ready.Store(false)

	bus.Emit(events.NewSystem(events.ServerShutdown, nil))
	reloader.Stop()
	manager.StopAll(context.Background())
	for _, p := range manager.All() {
		if err := manager.UnloadPlugin(context.Background(), p.Metadata.Name); err != nil {
			errutil.LogError(logger.With("plugin", p.Metadata.Name), "unloading plugin", err)
		}
	}
	if err := eng.Close(context.Background()); err != nil {
		errutil.LogError(logger, "closing engine", err)
	}
	if obs != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := obs.Stop(stopCtx); err != nil {
			errutil.LogError(logger, "stopping observability server", err)
		}
	}

	logger.Info("plugin host stopped")
	return nil
}

// trackPluginLifecycle keeps the metrics collector's plugin set in sync
// with loads and unloads.
func trackPluginLifecycle(bus *events.Bus, collector *monitor.Collector) {
	bus.Subscribe(events.PluginLoad, func(e events.Event) error {
		if name, ok := e.Data["plugin"].(string); ok {
			collector.Register(name)
		}
		return nil
	}, "monitor")
	bus.Subscribe(events.PluginUnload, func(e events.Event) error {
		if name, ok := e.Data["plugin"].(string); ok {
			collector.Unregister(name)
		}
		return nil
	}, "monitor")
}

// monitorLoop periodically samples sandbox resource usage into the
// collector, aggregates history, re-evaluates plugin health, and
// force-unloads plugins past the violation threshold.
func monitorLoop(
	ctx context.Context,
	collector *monitor.Collector,
	health *monitor.HealthMonitor,
	sandboxes *sandbox.Manager,
	manager *plugin.Manager,
	logger *slog.Logger,
	interval time.Duration,
) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sb := range sandboxes.All() {
				usage := sb.Usage()
				collector.UpdateMemoryUsage(sb.PluginName(), usage.MemoryUsed)
			}
			collector.Collect()
			health.CheckHealth()
			terminateViolators(ctx, manager, sandboxes, logger)
		}
	}
}

// terminateViolators unloads every plugin whose sandbox has crossed the
// security violation threshold. Unloading removes the sandbox, so a
// terminated plugin is not scanned again.
func terminateViolators(
	ctx context.Context,
	manager *plugin.Manager,
	sandboxes *sandbox.Manager,
	logger *slog.Logger,
) {
	for _, name := range sandboxes.CheckForTermination() {
		logger.Warn("unloading plugin: security violation threshold exceeded", "plugin", name)
		if err := manager.UnloadPlugin(ctx, name); err != nil {
			errutil.LogError(logger.With("plugin", name), "unloading plugin", err)
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// waitForShutdown blocks until the context is canceled or a termination
// signal arrives.
func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context canceled")
	case sig := <-sigChan:
		logger.Info("shutting down", "reason", "signal", "signal", sig.String())
	}
}
