// Package server exposes the read-only HTTP and WebSocket surface of the
// matchbook daemon: health, order and match history, and a live event feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openhooks/matchbook/internal/domain"
	"github.com/openhooks/matchbook/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Server is the headless HTTP + WebSocket API server for the matchbook
// daemon. All endpoints are read-only; order flow happens in-process.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	orders     domain.OrderStore
	matches    domain.MatchStore
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// The order and match stores may be nil, in which case the history endpoints
// respond with 503.
func NewServer(cfg Config, orders domain.OrderStore, matches domain.MatchStore, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		orders:  orders,
		matches: matches,
		logger:  logger,
	}

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/markets/{id}/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/markets/{id}/matches", s.handleListMatches)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = loggingMiddleware(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// handleHealth responds 200 with a small JSON body.
// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListOrders returns the stored orders for a market.
// GET /api/markets/{id}/orders?limit=100&offset=0
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		writeError(w, http.StatusServiceUnavailable, "order store not configured")
		return
	}
	marketID, ok := parseMarketID(w, r)
	if !ok {
		return
	}

	orders, err := s.orders.ListByMarket(r.Context(), marketID, parseListOpts(r))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeJSON(w, http.StatusOK, []domain.Order{})
			return
		}
		s.logger.Error("server: list orders", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleListMatches returns the stored matches for a market.
// GET /api/markets/{id}/matches?limit=100&offset=0
func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	if s.matches == nil {
		writeError(w, http.StatusServiceUnavailable, "match store not configured")
		return
	}
	marketID, ok := parseMarketID(w, r)
	if !ok {
		return
	}

	matches, err := s.matches.ListByMarket(r.Context(), marketID, parseListOpts(r))
	if err != nil {
		s.logger.Error("server: list matches", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// parseMarketID extracts and validates the {id} path segment as a 32-byte
// hex hash. On failure it writes a 400 response and returns ok=false.
func parseMarketID(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	raw := r.PathValue("id")
	trimmed := strings.TrimPrefix(raw, "0x")
	if len(trimmed) != common.HashLength*2 {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return common.Hash{}, false
	}
	return common.HexToHash(raw), true
}

// parseListOpts reads limit/offset query parameters with sane bounds.
func parseListOpts(r *http.Request) domain.ListOpts {
	opts := domain.ListOpts{Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 && n <= 1000 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// loggingMiddleware logs each request with method, path, and duration.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("server: request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
