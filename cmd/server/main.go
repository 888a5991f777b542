package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/resilienthike/clinical-swarm/internal/api"
	"github.com/resilienthike/clinical-swarm/internal/config"
	"github.com/resilienthike/clinical-swarm/internal/knowledge"
	"github.com/resilienthike/clinical-swarm/internal/metrics"
	"github.com/resilienthike/clinical-swarm/internal/reasoning"
	"github.com/resilienthike/clinical-swarm/internal/record"
	"github.com/resilienthike/clinical-swarm/internal/swarm"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/server.yaml", "Path to server YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// .env is optional; real deployments inject env vars directly.
	_ = godotenv.Load()

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Record store ─────────────────────────────────────────────────────────
	store, closeStore, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open record store", "backend", cfg.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()
	slog.Info("record store ready", "backend", cfg.Storage.Backend)

	// ── Reasoning backend ────────────────────────────────────────────────────
	var llm reasoning.Client
	switch cfg.Reasoning.Backend {
	case "http":
		llm = reasoning.NewHTTPClient(
			cfg.Reasoning.Endpoint,
			cfg.Reasoning.Model,
			os.Getenv("REASONING_API_KEY"),
			time.Duration(cfg.Reasoning.TimeoutMs)*time.Millisecond,
		)
	default:
		llm = reasoning.NewCannedClient()
	}
	slog.Info("reasoning backend selected", "backend", cfg.Reasoning.Backend)

	// ── Reference knowledge base ─────────────────────────────────────────────
	kb := knowledge.Load(cfg.Knowledge.Sources, logger)
	metrics.KnowledgeSourcesLoaded.Set(float64(kb.LoadedSources))
	slog.Info("knowledge base loaded",
		"sources", kb.TotalSources, "loaded", kb.LoadedSources,
		"serious_terms", len(kb.SeriousEvents), "other_terms", len(kb.OtherEvents))

	// ── Swarm ────────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recommend := swarm.NewRecommendationStage(store, llm, cfg.Protocol.Rules, logger)
	stages := []swarm.Stage{
		swarm.NewExtractionStage(store, llm, logger),
		swarm.NewRiskScoringStage(store, llm, kb, logger),
		recommend,
	}
	runner := swarm.NewRunner(store, stages, logger)
	disp := swarm.NewDispatcher(ctx, runner, cfg.Engine.SwarmWorkers, cfg.Engine.QueueDepth, logger)

	// ── Hot-reload watcher (protocol rules only) ─────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		recommend.SwapRules(newCfg.Protocol.Rules)
		slog.Info("protocol rules hot-reloaded", "rules", len(newCfg.Protocol.Rules))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := api.New(store, disp)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	disp.Shutdown()
	cancel()
	slog.Info("goodbye")
}

func openStore(cfg *config.Config) (record.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := record.OpenSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "redis":
		s := record.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisDB)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := s.Ping(pingCtx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return record.NewMemoryStore(), func() {}, nil
	}
}
