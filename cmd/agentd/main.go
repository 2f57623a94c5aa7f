package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/config"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/events"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/llm"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/manager"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/memory"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/reasoning"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/saga"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/server"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/storage"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(ctx, cfg.Storage)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to initialize snapshot store")
	}
	defer store.Close()

	var memStore memory.Store
	if cfg.Memory.Persistent {
		memStore, err = memory.NewBoltStore(cfg.Memory.Path)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to open memory store")
		}
	} else {
		memStore = memory.NewInMemoryStore()
	}
	defer memStore.Close()

	registry := tools.NewRegistry()
	if cfg.Agent.UseTools {
		tools.RegisterBuiltins(registry)
	}

	client := llm.NewOllamaClient(cfg.LLM)
	loop := reasoning.NewLoop(client, registry, memStore)
	runner := saga.NewRunner(loop, registry, cfg.Agent)

	bus := events.NewBus()
	defer bus.Close()

	mgr := manager.New(store, runner, loop, bus, cfg.Workflow, cfg.Agent)
	if err := mgr.Recover(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Startup recovery scan failed")
	}
	mgr.StartRetentionLoop(ctx)

	srv := server.New(cfg, mgr, bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Logger.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("HTTP shutdown failed")
	}

	cancel()
	if !mgr.Drain(30 * time.Second) {
		logger.Logger.Warn().Msg("Timed out waiting for running workflows, exiting anyway")
	}
}
