package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattjoyce/edgeclaw/internal/api"
	"github.com/mattjoyce/edgeclaw/internal/chat"
	"github.com/mattjoyce/edgeclaw/internal/config"
	"github.com/mattjoyce/edgeclaw/internal/events"
	"github.com/mattjoyce/edgeclaw/internal/health"
	"github.com/mattjoyce/edgeclaw/internal/inference"
	"github.com/mattjoyce/edgeclaw/internal/lock"
	"github.com/mattjoyce/edgeclaw/internal/log"
	"github.com/mattjoyce/edgeclaw/internal/metrics"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
	"github.com/mattjoyce/edgeclaw/internal/sandbox"
	"github.com/mattjoyce/edgeclaw/internal/signing"
	"github.com/mattjoyce/edgeclaw/internal/state"
	"github.com/mattjoyce/edgeclaw/internal/storage"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("edgeclaw starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer rt.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.worker.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := rt.server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("edgeclaw running (press Ctrl+C to stop)", "listen", cfg.ListenAddr(),
		"model", rt.worker.ModelName(), "device_id", rt.identity.PublicKeyHex())

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()
	wg.Wait()

	logger.Info("edgeclaw stopped")
	return code
}

// runtime holds every long-lived component of a running server.
type runtime struct {
	identity *signing.Identity
	registry *plugin.Registry
	worker   *inference.Worker
	server   *api.Server
	history  *state.HistoryCache
	closers  []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// buildRuntime wires config into components. Any error here is fatal to startup.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	rt.identity, err = signing.LoadOrGenerateIdentity(cfg.State.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}
	logger.Info("device identity loaded", "device_id", rt.identity.PublicKeyHex())

	rt.registry = openRegistry(cfg, rt.identity, log.WithComponent("plugins"))

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	logger.Info("database opened", "path", cfg.State.Path)

	store := state.NewStore(db)
	rt.history = state.NewHistoryCache(store, cfg.State.HistoryCacheTTL)
	rt.closers = append(rt.closers, rt.history.Close)

	rt.worker, err = inference.NewWorker(inference.WorkerConfig{
		QueueCapacity: cfg.Inference.QueueCapacity,
		Timeout:       cfg.Inference.Timeout,
		MaxTokensCap:  cfg.Inference.MaxTokensCap,
		Logger:        log.WithComponent("inference"),
	}, inference.NewOpener(cfg.Inference, log.WithComponent("inference")))
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.SetBuildInfo(version, rt.worker.ModelName())
	m.RegisterQueue(rt.worker.QueueDepth, rt.worker.QueueCapacity)
	snap := rt.registry.Snapshot()
	m.SetRegistry(snap.Table.Len(), snap.ExclusionCounts())

	hub := events.NewHub(256)
	m.RegisterEvents(hub.Subscribers, hub.Dropped)
	runner := sandbox.NewRunner(sandbox.Config{
		Timeout:        cfg.Plugins.Timeout,
		KillGrace:      cfg.Plugins.KillGrace,
		MaxOutputBytes: cfg.Plugins.MaxOutputBytes,
		Logger:         log.WithComponent("sandbox"),
	})

	svc := chat.NewService(chat.Deps{
		Router:       rt.registry,
		Invoker:      runner,
		Inferer:      rt.worker,
		History:      rt.history,
		Auditor:      store,
		Events:       hub,
		Metrics:      m,
		Logger:       log.WithComponent("chat"),
		HistoryTurns: cfg.Inference.HistoryTurns,
	})

	rt.server = api.New(api.Config{
		Listen:       cfg.ListenAddr(),
		APIKey:       cfg.API.APIKey,
		CORSOrigins:  cfg.API.CORSOrigins,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
		Version:      version,
		DeviceID:     rt.identity.PublicKeyHex(),
	}, api.Deps{
		Chat:      svc,
		Registry:  rt.registry,
		Inference: rt.worker,
		Store:     store,
		Host:      health.NewProbe(),
		Auditor:   store,
		Events:    hub,
		Metrics:   m,
	}, log.WithComponent("api"))

	return rt, nil
}

// openRegistry scans the plugin directory. Neither a directory that cannot be created
// nor a key that cannot be loaded stops the server: the first leaves the routing table
// empty and the second leaves every plugin unverified.
func openRegistry(cfg *config.Config, id *signing.Identity, logger *slog.Logger) *plugin.Registry {
	if err := os.MkdirAll(cfg.Plugins.Dir, 0o755); err != nil {
		logger.Warn("failed to create plugin dir", "dir", cfg.Plugins.Dir, "error", err)
	}
	return plugin.NewRegistry(pluginOptions(cfg, id, logger))
}

// pluginOptions trusts the configured key or, when none is configured, the device
// identity's own key.
func pluginOptions(cfg *config.Config, id *signing.Identity, logger *slog.Logger) plugin.Options {
	var trusted ed25519.PublicKey
	switch {
	case cfg.Plugins.TrustedKeyPath != "":
		key, err := signing.LoadPublicKey(cfg.Plugins.TrustedKeyPath)
		if err != nil {
			logger.Error("failed to load trusted key, no plugin will verify",
				"path", cfg.Plugins.TrustedKeyPath, "error", err)
		} else {
			trusted = key
		}
	case id != nil:
		trusted = id.PublicKey()
	}

	return plugin.Options{
		Dir:        cfg.Plugins.Dir,
		TrustedKey: trusted,
		Collisions: cfg.Plugins.Collisions,
		Logger:     logger,
	}
}
