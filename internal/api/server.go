package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ledger_operator/internal/metrics"
	"ledger_operator/internal/models"
	"ledger_operator/internal/repository"
	"ledger_operator/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StateReader interface {
	Snapshot() models.LedgerState
	Phase() services.Phase
	Ready() bool
}

type BlockReader interface {
	LoadBlock(ctx context.Context, blockNumber uint64) (*models.BlockSnapshot, error)
}

// Server exposes the operator's ledger read-only over HTTP.
type Server struct {
	router *chi.Mux
	state  StateReader
	blocks BlockReader
	log    *slog.Logger
	srv    *http.Server
}

func NewServer(addr string, state StateReader, blocks BlockReader, log *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		state:  state,
		blocks: blocks,
		log:    log,
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/blocks/{number}", s.handleBlock)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("api listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status         string `json:"status"`
	Phase          string `json:"phase"`
	RootChainBlock int64  `json:"rootChainBlock"`
}

type stateResponse struct {
	models.LedgerState
	Phase string `json:"phase"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	phase := s.state.Phase()
	resp := healthResponse{
		Status:         "ok",
		Phase:          phase.String(),
		RootChainBlock: s.state.Snapshot().RootChainBlock,
	}
	status := http.StatusOK
	if !s.state.Ready() {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, stateResponse{
		LedgerState: s.state.Snapshot(),
		Phase:       s.state.Phase().String(),
	})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseUint(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "block number must be a non-negative integer"})
		return
	}

	snapshot, err := s.blocks.LoadBlock(r.Context(), number)
	if errors.Is(err, repository.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "block not committed"})
		return
	}
	if err != nil {
		s.log.Error("failed to load block", "block", number, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load block"})
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}
