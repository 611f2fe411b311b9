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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/compliance-agents/coordination-core/internal/auth"
	"github.com/compliance-agents/coordination-core/internal/config"
	"github.com/compliance-agents/coordination-core/internal/consensus"
	"github.com/compliance-agents/coordination-core/internal/knowledge"
	"github.com/compliance-agents/coordination-core/internal/mcpgw"
	"github.com/compliance-agents/coordination-core/internal/mediator"
	"github.com/compliance-agents/coordination-core/internal/messagebus"
	"github.com/compliance-agents/coordination-core/internal/model"
	"github.com/compliance-agents/coordination-core/internal/orchestrator"
	"github.com/compliance-agents/coordination-core/internal/service/embedding"
	"github.com/compliance-agents/coordination-core/internal/storage"
	"github.com/compliance-agents/coordination-core/internal/telemetry"
	"github.com/compliance-agents/coordination-core/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("COORD_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("coordination-core starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Verify the schema actually landed — if the vector extension failed to
	// create, 001_initial.sql's agent_decisions table never exists and the
	// server would otherwise start serving against an empty database.
	var schemaOK bool
	if err := db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'agent_decisions')`,
	).Scan(&schemaOK); err != nil {
		return fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		return fmt.Errorf("critical table 'agent_decisions' does not exist after migration — check that the vector extension is available")
	}

	if err := db.EnsureDefaultOrg(ctx); err != nil {
		return fmt.Errorf("ensure default org: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	embedder := newEmbeddingProvider(cfg, logger)

	// Vector Knowledge Store: Qdrant-backed ANN search is optional. Without a
	// QDRANT_URL the store still works, falling back to Postgres full-text
	// search for every query (knowledge.Store.SemanticSearch/HybridSearch).
	var index *knowledge.Index
	if cfg.QdrantURL != "" {
		index, err = knowledge.NewIndex(knowledge.IndexConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("knowledge index: %w", err)
		}
		logger.Info("vector knowledge store: qdrant enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("vector knowledge store: qdrant disabled (no QDRANT_URL), full-text search only")
	}

	store := knowledge.New(db.Pool(), logger, embedder, index)

	retentionSweeper := knowledge.NewRetentionSweeper(store, cfg.KnowledgeRetentionInterval)
	retentionSweeper.Start(ctx)

	bus := messagebus.New(db.Pool(), db, logger, cfg.BusMaxRetries)
	busSweeper := messagebus.NewSweeper(bus, cfg.BusCleanupInterval)
	busSweeper.Start(ctx)

	consensusEngine := consensus.New(db.Pool(), logger)

	// Consensus Engine and Conversation Mediator are library APIs for the
	// embedding deployment's own agent Handler implementations to call
	// directly (e.g. to open a multi-agent negotiation mid-decision) — the
	// Non-goals exclude a second MCP tool surface for them, so they are
	// constructed here and handed to nothing further by this binary.
	_ = mediator.New(db.Pool(), logger, embedder, consensusEngine, bus, mediator.Config{
		TurnTimeout:          cfg.MediatorTurnTimeout,
		MaxNegotiationRounds: cfg.MediatorNegotiationRounds,
		ClaimTopicSimFloor:   cfg.MediatorClaimTopicSimFloor,
		ClaimDivFloor:        cfg.MediatorClaimDivFloor,
	})
	logger.Info("conversation mediator and consensus engine ready")

	orch := orchestrator.New(db.Pool(), logger, bus, orchestrator.Config{
		CircuitMaxFailures: cfg.OrchestratorCircuitMaxFailures,
		CircuitOpenTimeout: cfg.OrchestratorCircuitOpenTimeout,
	})

	if err := registerReferenceAgents(ctx, orch, store, logger, cfg.OrchestratorInitStrategy); err != nil {
		return fmt.Errorf("register agents: %w", err)
	}

	gw := mcpgw.New(orch, store, jwtMgr, logger, version)

	mux := http.NewServeMux()
	mux.Handle("/mcp", withMaxBody(gw.Handler("/mcp"), cfg.MaxRequestBodyBytes))
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("coordination-core listening", "addr", httpSrv.Addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("coordination-core shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.ShutdownHTTPTimeout)
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	busSweeper.Stop(context.Background())
	retentionSweeper.Stop(context.Background())

	slog.Info("coordination-core stopped")
	return nil
}

// registerReferenceAgents wires the three reference agent variants this
// module ships (orchestrator.AgentConstructors) under the orchestrator's
// configured init strategy. A deployment that wants its own agent
// implementations instead calls orch.Register directly with its own Factory.
func registerReferenceAgents(ctx context.Context, orch *orchestrator.Orchestrator, store *knowledge.Store, logger *slog.Logger, initStrategy string) error {
	deps := orchestrator.Dependencies{Store: store, Logger: logger}
	for agentType, ctor := range orchestrator.AgentConstructors {
		factory := func(ctor func(orchestrator.Dependencies) (orchestrator.Handler, error)) orchestrator.Factory {
			return func(ctx context.Context) (orchestrator.Handler, error) {
				return ctor(deps)
			}
		}(ctor)

		spec := model.AgentSpec{AgentType: agentType, InitStrategy: initStrategy}
		if err := orch.Register(ctx, spec, factory); err != nil {
			return fmt.Errorf("register %s: %w", agentType, err)
		}
	}
	return nil
}

// withMaxBody caps the request body read from the MCP HTTP handler, per
// cfg.MaxRequestBodyBytes — an unbounded body on a streamable-HTTP endpoint
// is an easy way to exhaust memory before auth even runs.
func withMaxBody(next http.Handler, limit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "hashing", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else the deterministic hashing provider.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when COORD_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai provider init failed", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		return p

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "hashing":
		logger.Info("embedding provider: hashing (deterministic, no external calls)", "dimensions", dims)
		return embedding.NewHashingProvider(dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
			if err != nil {
				logger.Error("openai provider init failed", "error", err)
				return embedding.NewNoopProvider(dims)
			}
			return p
		}
		logger.Warn("no embedding provider available, using hashing (deterministic but not semantically meaningful)")
		return embedding.NewHashingProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
