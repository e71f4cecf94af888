// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/tsswitch/internal/command"
	"firestige.xyz/tsswitch/internal/config"
	"firestige.xyz/tsswitch/internal/core"
	logpkg "firestige.xyz/tsswitch/internal/log"
	"firestige.xyz/tsswitch/internal/metrics"
	"firestige.xyz/tsswitch/internal/switcher"
)

// Daemon manages the tsswitch process lifecycle.
type Daemon struct {
	// Configuration
	mu         sync.Mutex
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	engine        *switcher.Core
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	remote        *command.UDPRemote            // nil if remote control disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// New loads the configuration and creates a Daemon. Empty socketPath and
// pidFile fall back to the control section of the configuration.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	return &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.GlobalConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Engine returns the switch engine once Run has built it.
func (d *Daemon) Engine() *switcher.Core {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine
}

// Run starts every component and blocks until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT) or ctx cancellation
//  2. daemon_shutdown command via UDS, Kafka or the UDP remote
//  3. the engine stopping on its own (all inputs ended, output failure)
//
// SIGHUP triggers a config reload. The engine error, if any, is returned.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.Config()
	slog.Info("starting tsswitch daemon",
		"version", core.Version,
		"hostname", cfg.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
		"inputs", len(cfg.Inputs),
		"output", cfg.Output.Name,
	)

	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logpkg.Close()

	// 2. Build the engine before anything is exposed
	engine, err := BuildEngine(cfg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.engine = engine
	d.mu.Unlock()

	// 3. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		if err := d.removePIDFile(); err != nil {
			slog.Error("error removing PID file", "error", err)
		}
	}()

	// 4. Start metrics server
	if err := d.startMetrics(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer d.stopMetrics()

	// 5. Command handler and control servers
	d.cmdHandler = command.NewCommandHandler(engine, d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)

	if cfg.CommandChannel.Enabled {
		consumer, err := command.NewKafkaCommandConsumer(cfg.CommandChannel, cfg.Node.Hostname, d.cmdHandler)
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		d.kafkaConsumer = consumer
	}

	if cfg.Remote.Enabled {
		remote, err := command.NewUDPRemote(cfg.Remote, d.cmdHandler)
		if err != nil {
			return fmt.Errorf("failed to create udp remote: %w", err)
		}
		d.remote = remote
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// The engine ending for any reason ends the daemon.
	g.Go(func() error {
		defer cancel()
		err := engine.Run(gctx)
		if errors.Is(err, core.ErrAllInputsEnded) {
			slog.Info("all inputs ended")
			return nil
		}
		if err != nil {
			return fmt.Errorf("switch engine: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return d.udsServer.Start(gctx)
	})

	if d.kafkaConsumer != nil {
		g.Go(func() error {
			err := d.kafkaConsumer.Start(gctx)
			if stopErr := d.kafkaConsumer.Stop(); stopErr != nil {
				slog.Error("error stopping kafka consumer", "error", stopErr)
			}
			return err
		})
	}

	if d.remote != nil {
		g.Go(func() error {
			return d.remote.Start(gctx)
		})
	}

	g.Go(func() error {
		for {
			select {
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					slog.Info("received shutdown signal", "signal", sig)
					cancel()
					return nil
				case syscall.SIGHUP:
					slog.Info("received reload signal")
					if err := d.Reload(); err != nil {
						slog.Error("failed to reload config", "error", err)
					}
				}

			case <-d.shutdownChan:
				slog.Info("shutdown triggered by command")
				cancel()
				return nil

			case <-gctx.Done():
				return nil
			}
		}
	})

	slog.Info("daemon running, waiting for signals or commands")

	err = g.Wait()
	engine.Stop()
	if err != nil {
		slog.Error("daemon stopped with error", "error", err)
		return err
	}
	slog.Info("daemon stopped gracefully")
	return nil
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format and file output.
// Cold (requires restart): everything else.
// Implements ConfigReloader interface for CommandHandler.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	if err := logpkg.Init(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	d.mu.Lock()
	old := d.config
	requiresRestart := coldChanges(old, newConfig)
	// Only the log section takes effect; the rest stays as started.
	applied := *old
	applied.Log = newConfig.Log
	d.config = &applied
	d.mu.Unlock()

	slog.Info("configuration reloaded",
		"level", newConfig.Log.Level,
		"format", newConfig.Log.Format,
		"requires_restart", requiresRestart,
	)
	return nil
}

// coldChanges lists the changed sections that only take effect on restart.
func coldChanges(old, next *config.GlobalConfig) []string {
	var changed []string
	if old.Node.Hostname != next.Node.Hostname {
		changed = append(changed, "node.hostname")
	}
	if old.Control != next.Control {
		changed = append(changed, "control")
	}
	if old.Metrics != next.Metrics {
		changed = append(changed, "metrics")
	}
	if old.Switch != next.Switch {
		changed = append(changed, "switch")
	}
	if len(old.Inputs) != len(next.Inputs) {
		changed = append(changed, "inputs")
	}
	if old.Output.Name != next.Output.Name {
		changed = append(changed, "output")
	}
	return changed
}

// TriggerShutdown triggers graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	cfg := d.Config()
	if err := logpkg.Init(cfg.Log); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", cfg.Log.Level,
		"format", cfg.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics(ctx context.Context) error {
	cfg := d.Config()
	if !cfg.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
	return d.metricsServer.Start(ctx)
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metricsServer.Stop(shutdownCtx); err != nil {
		slog.Error("error stopping metrics server", "error", err)
	}
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
