// Package server assembles the HTTP surface of the trade engine: public
// negotiation and fulfillment routes keyed by the gateway identity,
// operator routes behind API-key auth, and the WebSocket event feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
	"github.com/openbarter/tradecore/internal/server/handler"
	"github.com/openbarter/tradecore/internal/server/middleware"
	"github.com/openbarter/tradecore/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // if empty, admin authentication is disabled

	// APIRateLimit caps requests per client IP per APIRateWindow. Zero
	// disables the surface-level limiter; trade creation keeps its own
	// per-user limit either way.
	APIRateLimit  int
	APIRateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Trades      *handler.TradeHandler
	Fulfillment *handler.FulfillmentHandler
	Admin       *handler.AdminHandler
	Scheduler   *handler.SchedulerHandler
}

// Server wraps the http.Server with the full route table and middleware
// chain installed.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer registers all routes and middleware. limiter may be nil to
// skip the per-IP request limiter.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerPublic(mux, handlers)
	registerOperator(mux, cfg.AdminAPIKey, handlers, wsHub)

	// Identity runs before logging so request logs carry the acting
	// user; CORS wraps everything to answer preflights first.
	var h http.Handler = mux
	if limiter != nil && cfg.APIRateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.APIRateLimit, cfg.APIRateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.Identity()(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// registerPublic wires the routes reachable with only a gateway
// identity: health, status, and the negotiation and fulfillment API.
func registerPublic(mux *http.ServeMux, h Handlers) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("POST /api/trades", h.Trades.CreateTrade)
	mux.HandleFunc("GET /api/trades", h.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", h.Trades.GetTrade)
	mux.HandleFunc("GET /api/trades/number/{tradeNumber}", h.Trades.GetTradeByNumber)
	mux.HandleFunc("POST /api/trades/{id}/accept", h.Trades.AcceptTrade)
	mux.HandleFunc("POST /api/trades/{id}/reject", h.Trades.RejectTrade)
	mux.HandleFunc("POST /api/trades/{id}/counter", h.Trades.CounterTrade)
	mux.HandleFunc("POST /api/trades/{id}/cancel", h.Trades.CancelTrade)

	mux.HandleFunc("POST /api/trades/{id}/shipment", h.Fulfillment.RecordShipment)
	mux.HandleFunc("POST /api/trades/{id}/receipt", h.Fulfillment.AcknowledgeReceipt)
	mux.HandleFunc("POST /api/trades/{id}/dispute", h.Fulfillment.RaiseDispute)
}

// registerOperator wires the API-key-gated surface: dispute resolution,
// audit and archive access, the sweep trigger, and the event feed.
func registerOperator(mux *http.ServeMux, apiKey string, h Handlers, wsHub *ws.Hub) {
	admin := middleware.AdminAuth(apiKey)

	mux.Handle("POST /api/admin/trades/{id}/resolve", admin(http.HandlerFunc(h.Admin.ResolveDispute)))
	mux.Handle("GET /api/admin/audit", admin(http.HandlerFunc(h.Admin.ListAudit)))
	mux.Handle("GET /api/admin/archives", admin(http.HandlerFunc(h.Admin.ListArchives)))
	mux.Handle("GET /api/admin/archives/{path...}", admin(http.HandlerFunc(h.Admin.DownloadArchive)))
	mux.Handle("POST /api/admin/scheduler/sweep", admin(http.HandlerFunc(h.Scheduler.TriggerSweep)))

	if wsHub != nil {
		mux.Handle("GET /ws", admin(http.HandlerFunc(wsHub.HandleWS)))
	}
}

// Start listens until the server fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server: listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
