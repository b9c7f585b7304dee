package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	openaiSDK "github.com/sashabaranov/go-openai"

	"github.com/dwahbe/climate-river/internal/handler/http/requestid"
	pgRepo "github.com/dwahbe/climate-river/internal/infra/adapter/persistence/postgres"
	"github.com/dwahbe/climate-river/internal/infra/chat"
	"github.com/dwahbe/climate-river/internal/infra/db"
	feedprobe "github.com/dwahbe/climate-river/internal/infra/discover"
	"github.com/dwahbe/climate-river/internal/infra/embed"
	"github.com/dwahbe/climate-river/internal/infra/fetcher"
	"github.com/dwahbe/climate-river/internal/infra/scraper"
	workerPkg "github.com/dwahbe/climate-river/internal/infra/worker"
	"github.com/dwahbe/climate-river/internal/observability/tracing"
	"github.com/dwahbe/climate-river/internal/river"
	"github.com/dwahbe/climate-river/internal/scheduler"
	"github.com/dwahbe/climate-river/internal/usecase/categorize"
	"github.com/dwahbe/climate-river/internal/usecase/cluster"
	"github.com/dwahbe/climate-river/internal/usecase/discover"
	"github.com/dwahbe/climate-river/internal/usecase/ingest"
	"github.com/dwahbe/climate-river/internal/usecase/prefetch"
	"github.com/dwahbe/climate-river/internal/usecase/rewrite"
	"github.com/dwahbe/climate-river/internal/usecase/score"
)

func waitForMigrations(logger *slog.Logger, database *sql.DB) {
	const probe = "SELECT 1 FROM sources LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := database.Exec(probe); err == nil {
			return
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		time.Sleep(3 * time.Second)
	}
	logger.Error("migrations did not complete in time")
	os.Exit(1)
}

func main() {
	logger := initLogger()

	database := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.MustRegister()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := workerConfig.Validate(); err != nil {
		logger.Error("invalid worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.Int("light_stage_cap", workerConfig.LightStageCap),
		slog.Int("delta_stage_cap", workerConfig.DeltaStageCap),
		slog.Int("daily_stage_cap", workerConfig.DailyStageCap),
		slog.Int("retention_days", workerConfig.RetentionDays),
		slog.Int("backfill_hours", workerConfig.BackfillHours),
		slog.Int("backfill_batch", workerConfig.BackfillBatch),
		slog.Duration("crawl_timeout", workerConfig.CrawlTimeout),
		slog.Int("health_port", workerConfig.HealthPort))

	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	startMetricsServer(ctx, logger)

	sched, riverHandler := setupServices(logger, database, workerConfig)

	mux := http.NewServeMux()
	schedHandler := scheduler.NewHandlerFromConfig(sched, workerConfig)
	schedHandler.Routes(mux)
	riverHandler.Routes(mux)

	var handler http.Handler = mux
	handler = requestid.Middleware(handler)
	handler = tracing.Middleware(handler)

	appAddr := fmt.Sprintf(":%s", getAppPort())
	appServer := &http.Server{
		Addr:         appAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: workerConfig.CrawlTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("app server starting", slog.String("addr", appAddr))
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("app server failed", slog.Any("error", err))
		}
	}()

	healthServer.SetReady(true)
	logger.Info("worker marked as ready")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := appServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("app server shutdown failed", slog.Any("error", err))
	}
}

// initLogger initializes and returns a structured logger based on environment configuration.
func initLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the database connection and waits for migrations to complete.
func initDatabase(logger *slog.Logger) *sql.DB {
	database := db.Open()
	waitForMigrations(logger, database)
	return database
}

// setupServices wires every pipeline usecase against its postgres
// repositories and infra adapters, then assembles the Scheduler and the
// River Query handler.
func setupServices(logger *slog.Logger, database *sql.DB, cfg *workerPkg.WorkerConfig) (*scheduler.Scheduler, *river.Handler) {
	sources := pgRepo.NewSourceRepo(database)
	articles := pgRepo.NewArticleRepo(database)
	categories := pgRepo.NewCategoryRepo(database)
	clusters := pgRepo.NewClusterRepo(database)
	clusterScores := pgRepo.NewClusterScoreRepo(database)
	embeddings := pgRepo.NewArticleEmbeddingRepo(database)
	rivers := pgRepo.NewRiverRepo(database)

	httpClient := createHTTPClient()
	webClient := createWebScraperHTTPClient()

	feedFetcher := scraper.NewRSSFetcher(httpClient)
	feedProber := feedprobe.NewFeedProbe(webClient)
	chatClient := createChatClient(logger)
	embedder := createEmbedder(logger)

	contentFetchConfig, err := fetcher.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("failed to load content fetch configuration, using defaults", slog.Any("error", err))
		contentFetchConfig = fetcher.DefaultConfig()
	}
	contentFetcher := fetcher.NewReadabilityFetcher(contentFetchConfig)

	ingestSvc := ingest.NewService(sources, articles, feedFetcher)
	discoverSvc := discover.NewService(sources, articles, feedProber, chatClient)
	prefetchSvc := prefetch.NewService(articles, contentFetcher, contentFetchConfig.Parallelism)
	categorizeSvc := categorize.NewService(categories, embedder)
	clusterSvc := cluster.NewService(articles, clusters, embeddings, embedder)
	scoreSvc := score.NewService(clusters, clusterScores, articles)
	rewriteSvc := rewrite.NewService(articles, chatClient, os.Getenv("REWRITE_MODEL"))

	backfillWindow := time.Duration(cfg.BackfillHours) * time.Hour
	sched := scheduler.NewScheduler(
		ingestSvc, discoverSvc, prefetchSvc, categorizeSvc, clusterSvc, scoreSvc, rewriteSvc,
		articles, backfillWindow, cfg.BackfillBatch, cfg.RetentionDays,
	)

	riverSvc := river.NewService(rivers)
	riverHandler := river.NewHandler(riverSvc)

	return sched, riverHandler
}

// createChatClient selects a chat.Completer based on CHAT_PROVIDER
// ("claude", the default, or "openai").
func createChatClient(logger *slog.Logger) chat.Completer {
	provider := os.Getenv("CHAT_PROVIDER")
	if provider == "" {
		provider = "claude"
	}

	switch provider {
	case "claude":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			logger.Error("ANTHROPIC_API_KEY is required when CHAT_PROVIDER=claude")
			os.Exit(1)
		}
		logger.Info("using Claude for chat completion", slog.String("provider", "claude"))
		return chat.NewClaude(apiKey, os.Getenv("CHAT_MODEL"))
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			logger.Error("OPENAI_API_KEY is required when CHAT_PROVIDER=openai")
			os.Exit(1)
		}
		logger.Info("using OpenAI for chat completion", slog.String("provider", "openai"))
		return chat.NewOpenAI(apiKey, os.Getenv("CHAT_MODEL"))
	default:
		logger.Error("invalid CHAT_PROVIDER", slog.String("provider", provider), slog.String("expected", "claude or openai"))
		os.Exit(1)
		return nil
	}
}

// createEmbedder builds the OpenAI embedding client; EMBEDDING_MODEL
// defaults to openai.SmallEmbedding3 inside embed.NewOpenAI when empty.
func createEmbedder(logger *slog.Logger) *embed.OpenAI {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Error("OPENAI_API_KEY is required for embeddings")
		os.Exit(1)
	}
	model := openaiSDK.EmbeddingModel(os.Getenv("EMBEDDING_MODEL"))
	return embed.NewOpenAI(apiKey, model)
}

// createHTTPClient creates an HTTP client with timeouts and connection pooling.
// TLS 1.2+ is enforced for security.
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// createWebScraperHTTPClient creates an HTTP client for web scraping/feed
// probing with a shorter timeout than the feed-fetch client.
func createWebScraperHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// getAppPort returns the PORT the /cron/* and /river HTTP server listens
// on, defaulting to 8080.
func getAppPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}
