// Package server exposes the HTTP surface: job control, data access,
// persistence inspection, the per-cycle SSE stream, and the war-room
// websocket feed.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"supply_agent/internal/agent"
	"supply_agent/internal/config"
	"supply_agent/internal/core"
	"supply_agent/internal/memory"
	"supply_agent/internal/stream"
)

// Server carries the handler dependencies and the underlying http.Server
type Server struct {
	cfg        *config.Config
	logger     core.ILogger
	store      core.Store
	controller *agent.Controller
	bus        *stream.Bus
	hub        *stream.Hub
	memory     *memory.Manager
	recovery   *memory.Recovery
	tokens     *TokenManager

	upgrader websocket.Upgrader
	srv      *http.Server
	mu       sync.Mutex
}

// NewServer wires the HTTP surface
func NewServer(
	cfg *config.Config,
	logger core.ILogger,
	store core.Store,
	controller *agent.Controller,
	bus *stream.Bus,
	hub *stream.Hub,
	mem *memory.Manager,
) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger.WithField("component", "http_server"),
		store:      store,
		controller: controller,
		bus:        bus,
		hub:        hub,
		memory:     mem,
		recovery:   memory.NewRecovery(mem, logger),
		tokens:     NewTokenManager(cfg.Server, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return s
}

// Routes builds the handler mux
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /agent/run_once", s.requireAuth(s.handleRunOnce))
	mux.HandleFunc("GET /agent/job/{id}", s.requireAuth(s.handleJob))
	mux.HandleFunc("GET /agent/jobs", s.requireAuth(s.handleJobs))
	mux.HandleFunc("GET /agent/stream/{id}", s.requireAuth(s.handleStream))
	mux.HandleFunc("GET /agent/finance-summary", s.requireAuth(s.handleFinanceSummary))

	mux.HandleFunc("GET /inventory", s.requireAuth(s.handleListInventory))
	mux.HandleFunc("POST /inventory", s.requireAuth(s.handleUpsertInventory))
	mux.HandleFunc("GET /sales", s.requireAuth(s.handleListSales))
	mux.HandleFunc("POST /sales", s.requireAuth(s.handleInsertSale))
	mux.HandleFunc("GET /orders", s.requireAuth(s.handleListOrders))
	mux.HandleFunc("POST /orders", s.requireAuth(s.handleCreateOrder))
	mux.HandleFunc("GET /alerts", s.requireAuth(s.handleListAlerts))
	mux.HandleFunc("POST /alerts", s.requireAuth(s.handleCreateAlert))

	mux.HandleFunc("GET /persistence/checkpoints", s.requireAuth(s.handleCheckpoints))
	mux.HandleFunc("GET /persistence/episodes", s.requireAuth(s.handleEpisodes))
	mux.HandleFunc("GET /persistence/facts", s.requireAuth(s.handleFacts))
	mux.HandleFunc("POST /persistence/facts", s.requireAuth(s.handleStoreFact))
	mux.HandleFunc("GET /persistence/recovery", s.requireAuth(s.handleRecoveryPlan))
	mux.HandleFunc("POST /persistence/recovery/resume", s.requireAuth(s.handleRecoveryResume))

	mux.HandleFunc("GET /ws", s.requireAuth(s.handleWebSocket))

	return mux
}

// Start runs the server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.mu.Lock()
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSecs) * time.Second,
	}
	// SSE streams outlive the write timeout; the stream handler enforces
	// its own deadline instead
	s.srv.WriteTimeout = 0
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeMutation is the shared response envelope for write endpoints
func (s *Server) writeMutation(w http.ResponseWriter, status int, message string, data interface{}) {
	s.writeJSON(w, status, map[string]interface{}{
		"message": message,
		"data":    data,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"observers": s.hub.ClientCount(),
		"time":      time.Now().Unix(),
	})
}
