package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tokenforge/service/config"
	"github.com/brojonat/tokenforge/service/db"
	"github.com/brojonat/tokenforge/service/metrics"
	natspkg "github.com/brojonat/tokenforge/service/nats"
	"github.com/brojonat/tokenforge/service/temporal"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TokenCreator is the part of the creation pipeline the HTTP API drives.
// *token.Creator satisfies it.
type TokenCreator interface {
	Quote(flags token.CostFlags) token.CostBreakdown
	Prepare(ctx context.Context, cfg *token.AssetConfig, feePayer solana.PublicKey) (*token.Prepared, error)
	Rebuild(ctx context.Context, p *token.Prepared) (*token.Prepared, error)
	CompleteSigned(ctx context.Context, p *token.Prepared, signed *solana.Transaction) (*token.SubmissionReceipt, error)
	Reporter() *token.ResultReporter
}

// ReceiptStore is the journal the API writes submissions to.
type ReceiptStore interface {
	CreateReceipt(ctx context.Context, params db.CreateReceiptParams) (*db.Receipt, error)
	GetReceipt(ctx context.Context, signature string) (*db.Receipt, error)
	ListReceiptsByFeePayer(ctx context.Context, feePayer string, limit, offset int32) ([]*db.Receipt, error)
}

// StatusLedger answers live signature lookups for receipts that were never
// journaled.
type StatusLedger interface {
	SignatureStatus(ctx context.Context, sig solana.Signature) (*token.SignatureStatus, error)
}

// Server represents the HTTP server for the token creation service.
type Server struct {
	addr         string
	cfg          *config.Config
	creator      TokenCreator
	ledger       StatusLedger
	store        ReceiptStore
	publisher    natspkg.Publisher
	reconciler   temporal.Reconciler
	ssePublisher *SSEPublisher
	prepared     *preparedCache
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store, publisher, reconciler and ssePublisher are optional; a nil value
// disables journaling, events, reconciliation and streaming respectively.
// If metrics is nil, the metrics endpoint is not registered.
func New(
	addr string,
	cfg *config.Config,
	creator TokenCreator,
	ledger StatusLedger,
	store ReceiptStore,
	publisher natspkg.Publisher,
	reconciler temporal.Reconciler,
	ssePublisher *SSEPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		creator:      creator,
		ledger:       ledger,
		store:        store,
		publisher:    publisher,
		reconciler:   reconciler,
		ssePublisher: ssePublisher,
		prepared:     newPreparedCache(cfg.PreparedTTL, m),
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.Instrument(s.metrics, pattern, h))
	}

	// Creation routes
	route("POST /api/v1/quote", handleQuote(s.creator, s.logger))
	route("POST /api/v1/tokens/prepare", handlePrepare(s.creator, s.prepared, s.cfg.MaxImageBytes, s.logger))
	route("POST /api/v1/tokens/submit", handleSubmit(s.submitDeps()))
	route("GET /api/v1/tokens/{mint}/qr", handleTokenQR(s.creator.Reporter(), s.logger))

	// Journal routes
	route("GET /api/v1/receipts/{signature}", handleGetReceipt(s.store, s.ledger, s.logger))
	if s.store != nil {
		route("GET /api/v1/receipts", handleListReceipts(s.store, s.logger))
	}

	// SSE streaming endpoint (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/events/{fee_payer}", handleStreamEvents(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoint disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

func (s *Server) submitDeps() submitDeps {
	return submitDeps{
		creator:    s.creator,
		prepared:   s.prepared,
		store:      s.store,
		publisher:  s.publisher,
		reconciler: s.reconciler,
		network:    s.cfg.Network,
		reconcile: temporal.ReconcileInput{
			Network:  s.cfg.Network,
			Interval: s.cfg.ReconcileInterval,
			Timeout:  s.cfg.ReconcileTimeout,
		},
		metrics: s.metrics,
		logger:  s.logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Submissions block until confirmation or the confirm timeout.
		WriteTimeout: s.cfg.ConfirmTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "network", s.cfg.Network)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
