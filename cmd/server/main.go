package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/tokenforge/service/config"
	"github.com/brojonat/tokenforge/service/db"
	"github.com/brojonat/tokenforge/service/metrics"
	natspkg "github.com/brojonat/tokenforge/service/nats"
	"github.com/brojonat/tokenforge/service/server"
	"github.com/brojonat/tokenforge/service/solana"
	"github.com/brojonat/tokenforge/service/storage"
	"github.com/brojonat/tokenforge/service/temporal"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client on one of the configured endpoints
	// Note: For premium RPC endpoints, include API key in the URL
	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(
		solana.NewRPCClient(endpoint),
		rpc.CommitmentType(cfg.SolanaCommitment),
		endpointLabel(endpoint),
		metricsCollector,
		logger,
	)
	logger.Info("initialized solana RPC client",
		"endpoint", endpointLabel(endpoint),
		"total_endpoints", len(cfg.SolanaRPCURLs),
		"commitment", cfg.SolanaCommitment,
	)

	// Initialize content storage
	contentPublisher, err := storage.NewPublisher(storage.Config{
		APIKey:     cfg.StorageAPIKey,
		UploadURL:  cfg.StorageUploadURL,
		GatewayURL: cfg.StorageGatewayURL,
	}, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create storage publisher", "error", err)
		os.Exit(1)
	}

	creator := token.NewCreator(cfg.CreatorConfig(), solanaClient, contentPublisher, metricsCollector, logger)

	// Optional infrastructure. Interfaces stay nil unless configured.
	var (
		receiptStore server.ReceiptStore
		pendingStore server.PendingReceiptLister
		publisher    natspkg.Publisher
		reconciler   temporal.Reconciler
		ssePublisher *server.SSEPublisher
	)

	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store := db.NewStore(dbPool, metricsCollector)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure database schema", "error", err)
			os.Exit(1)
		}
		receiptStore = store
		pendingStore = store
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, receipts will not be journaled")
	}

	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, creation events will not be published")
	}

	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		reconciler = temporalClient
		logger.Info("connected to temporal",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
		)
	} else {
		logger.Warn("TEMPORAL_HOST not set, timed-out submissions will not be reconciled")
	}

	// Initialize HTTP server
	httpServer := server.New(
		cfg.ServerAddr,
		cfg,
		creator,
		solanaClient,
		receiptStore,
		publisher,
		reconciler,
		ssePublisher,
		metricsCollector,
		logger,
	)

	// Pick up submissions a previous process left pending.
	if pendingStore != nil && reconciler != nil {
		if _, err := httpServer.ResumeReconciliation(ctx, pendingStore, cfg.ConfirmTimeout); err != nil {
			logger.Error("failed to resume reconciliation", "error", err)
		}
	}

	logger.Info("server initialized, all dependencies ready",
		"journal", receiptStore != nil,
		"events", publisher != nil,
		"reconciliation", reconciler != nil,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown waits for in-flight submissions to settle.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ConfirmTimeout+30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// endpointLabel extracts a short identifier from a Solana RPC URL for logs
// and metric labels, so API keys embedded in the URL never leave the process.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
func endpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}
	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "quicknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return strings.Replace(provider, "quicknode", "quiknode", 1)
		}
	}
	for _, cluster := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}
	return host
}
