// Command controllerd runs the controller_turn MCP server.
//
// It communicates over stdio using JSON-RPC 2.0 (MCP protocol) and
// mediates every turn between an agent and the target repository through
// the single controller_turn tool (spec §4.1). Adapted from the
// teacher's cmd/specmcp, which wired a flat list of Emergent-backed
// tools into the same registry/server pair; this command wires one tool
// backed by the full turn kernel instead.
//
// Configuration is layered JSON (internal/config): an embedded base, an
// optional .ctrlmcp/config.json repo file, an optional
// CTRLMCP_CONFIG_LOCAL override file, then environment variables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/ctrlmcp/internal/codemod"
	"github.com/emergent-company/ctrlmcp/internal/config"
	"github.com/emergent-company/ctrlmcp/internal/contextpack"
	"github.com/emergent-company/ctrlmcp/internal/eventlog"
	"github.com/emergent-company/ctrlmcp/internal/execution"
	"github.com/emergent-company/ctrlmcp/internal/external"
	"github.com/emergent-company/ctrlmcp/internal/graphadapter"
	"github.com/emergent-company/ctrlmcp/internal/index"
	"github.com/emergent-company/ctrlmcp/internal/mcp"
	"github.com/emergent-company/ctrlmcp/internal/memory"
	"github.com/emergent-company/ctrlmcp/internal/metrics"
	"github.com/emergent-company/ctrlmcp/internal/rerank"
	"github.com/emergent-company/ctrlmcp/internal/scheduler"
	"github.com/emergent-company/ctrlmcp/internal/session"
	"github.com/emergent-company/ctrlmcp/internal/turn"

	"github.com/prometheus/client_golang/prometheus"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "controllerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	version := cfg.Server.Version
	if Version != "dev" {
		version = Version
	}
	logger.Info("starting controllerd", "version", version, "graph_uri", cfg.Graph.URI)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events, err := eventlog.Open(cfg.Controller.EventLogPath)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer events.Close()

	sessions := session.NewStore()
	mem := memory.NewStore()
	nextID := func() string { return uuid.NewString() }
	friction := memory.NewFrictionDetector(cfg.Memory.FrictionThreshold, nextID)
	promoter := memory.NewPromoter(mem, hoursToDuration(cfg.Memory.ContestWindowHours), logger)
	overrides := memory.NewOverrideIngestor(cfg.Controller.WorktreeRoot, mem, logger, nextID)

	packs := &contextpack.Builder{
		Overrides: overrides,
		Memory:    mem,
		Rerank:    rerank.NewGlossaryReranker(),
	}

	if err := os.MkdirAll(cfg.Controller.ScratchRoot, 0o755); err != nil {
		return fmt.Errorf("creating scratch root: %w", err)
	}
	if idx, err := index.Open(indexPath(cfg)); err != nil {
		logger.Warn("lexical index unavailable, continuing without it", "error", err)
	} else {
		defer idx.Close()
		if err := idx.IndexRepo(ctx, cfg.Controller.WorktreeRoot); err != nil {
			logger.Warn("indexing repo failed, continuing with partial index", "error", err)
		}
		packs.Index = idx
	}

	if cfg.Graph.URI != "" {
		graph, err := graphadapter.New(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database,
			graphadapter.WithLogger(logger))
		if err != nil {
			logger.Warn("graph adapter unavailable, continuing without it", "error", err)
		} else {
			defer graph.Close(ctx)
			packs.Graph = graph
		}
	}

	var sources []interface {
		Match(prompt string) (string, bool)
		Fetch(ctx context.Context, ref string) (string, error)
	}
	if cfg.External.TicketTrackerURL != "" {
		sources = append(sources, external.NewTicketFetcher(cfg.External.TicketTrackerURL, cfg.External.TicketToken, cfg.External.CacheDir))
	}
	if cfg.External.APISpecRegistry != "" {
		sources = append(sources, external.NewAPISpecFetcher(cfg.External.APISpecRegistry, cfg.External.CacheDir))
	}
	if len(sources) > 0 {
		packs.External = &external.Composite{Sources: sources}
	}

	codemods := codemod.NewBuiltinRegistry()
	guard := execution.NewCollisionGuard()
	patch := execution.NewPatchService(guard, codemods, cfg.Controller.ScratchRoot)
	sandbox := execution.NewSandboxService(cfg.Controller.ScratchRoot)
	sideEffects := execution.NewSideEffectService(guard, cfg.Controller.ScratchRoot)

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	controller := turn.NewController(turn.Config{
		BudgetMax:       cfg.Controller.BudgetMax,
		BudgetThreshold: cfg.Controller.BudgetThreshold,
		WorktreeRoot:    cfg.Controller.WorktreeRoot,
		ScratchRoot:     cfg.Controller.ScratchRoot,
	}, sessions, packs, codemods, mem, friction, promoter, patch, sandbox, sideEffects, guard, events, logger)
	controller.Metrics = recorder

	registry := mcp.NewRegistry()
	registry.Register(&mcp.ControllerTool{Controller: controller})

	cron := scheduler.NewCronScheduler(ctx, logger)
	if cfg.Memory.PromotionCron != "" {
		if err := cron.AddJob(cfg.Memory.PromotionCron, memory.NewJob(promoter)); err != nil {
			return fmt.Errorf("scheduling memory promotion sweep: %w", err)
		}
	}
	cron.Start()
	defer cron.Stop()

	ticker := scheduler.NewScheduler(logger)
	ticker.AddJob(memory.NewInboxJob(overrides), 30*time.Second)
	ticker.Start(ctx)
	defer ticker.Stop()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, reg, logger)
	}

	server := mcp.NewServer(registry, mcp.ServerInfo{
		Name:    cfg.Server.Name,
		Version: version,
	}, logger)

	return server.Run(ctx)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func indexPath(cfg *config.Config) string {
	return cfg.Controller.ScratchRoot + "/index.sqlite"
}

func hoursToDuration(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
