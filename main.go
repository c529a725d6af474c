package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/remlabs/rem-engine/pkg/config"
	"github.com/remlabs/rem-engine/pkg/database"
	"github.com/remlabs/rem-engine/pkg/handlers"
	"github.com/remlabs/rem-engine/pkg/llm"
	"github.com/remlabs/rem-engine/pkg/logging"
	"github.com/remlabs/rem-engine/pkg/mcp"
	"github.com/remlabs/rem-engine/pkg/mcp/tools"
	"github.com/remlabs/rem-engine/pkg/middleware"
	"github.com/remlabs/rem-engine/pkg/repositories"
	"github.com/remlabs/rem-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.Embedding.Model))

	// Migrations run over database/sql; the serving path uses pgx.
	migrationDB, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("failed to close migration connection", zap.Error(err))
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	scopes := database.NewTenantScopeProvider(db)

	endpoint := cfg.Embedding.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	embeddingClient, err := llm.NewClient(&llm.Config{
		Endpoint: endpoint,
		APIKey:   cfg.Embedding.APIKey,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create embedding client", zap.Error(err))
	}

	providers, err := llm.NewRegistry(&llm.Provider{
		Name:      cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Client:    embeddingClient,
	})
	if err != nil {
		logger.Fatal("invalid embedding provider configuration", zap.Error(err))
	}

	entityRepo := repositories.NewEntityRepository()
	indexRepo := repositories.NewEntityIndexRepository()
	embeddingRepo := repositories.NewEmbeddingRepository()

	ingest := services.NewIngestService(entityRepo, indexRepo, embeddingRepo, logger)
	fuzzy := services.NewFuzzyMatcher(indexRepo, logger)
	ranker := services.NewSimilarityRanker(embeddingRepo, providers, logger)
	traversal := services.NewTraversalEngine(indexRepo, entityRepo, logger)
	router := services.NewQueryRouter(indexRepo, fuzzy, ranker, traversal, scopes, logger)

	if cfg.RebuildIndexOnStart {
		if err := rebuildIndex(ctx, scopes, ingest); err != nil {
			logger.Fatal("startup index rebuild failed", zap.Error(err))
		}
		logger.Info("entity index rebuilt at startup")
	}

	workerCfg := services.WorkerConfig{
		Provider:     cfg.Embedding.Provider,
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: cfg.Worker.PollInterval(),
		ClaimTimeout: cfg.Worker.ClaimTimeout(),
	}
	worker := services.NewEmbeddingWorker(entityRepo, embeddingRepo, providers, scopes, workerCfg, logger)
	if cfg.Worker.Enabled {
		worker.Start()
		defer worker.Stop()
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(router, logger).RegisterRoutes(mux)
	handlers.NewEntityHandler(ingest, scopes, logger).RegisterRoutes(mux)

	mcpServer := mcp.NewServer("rem-engine", cfg.Version, logger)
	tools.RegisterMemoryTools(mcpServer, &tools.MemoryToolDeps{
		Router: router,
		Logger: logger,
	})
	mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(mcpServer.NewStreamableHTTPServer()))

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting rem-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

func rebuildIndex(ctx context.Context, scopes *database.TenantScopeProvider, ingest services.IngestService) error {
	scopeCtx, cleanup, err := scopes.WithTenantScope(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()
	return ingest.RebuildIndex(scopeCtx)
}
