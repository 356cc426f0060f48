// Package server routes the streamer's HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/eigen-stream/internal/version"
)

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Deps are the handlers and health checks the server routes to. Nil handlers
// leave their route unregistered.
type Deps struct {
	Instance    string
	Deposits    http.Handler
	Trades      http.Handler
	Metrics     http.Handler
	MetricsPath string
	Middleware  mux.MiddlewareFunc

	Checks map[string]Check
	Topics func() map[string]int // live topic count per feed
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status     string            `json:"status"`
	Instance   string            `json:"instance"`
	Version    version.Info      `json:"version"`
	Components map[string]string `json:"components"`
	Topics     map[string]int    `json:"topics,omitempty"`
}

// Server serves pings, health, metrics and the websocket streams.
type Server struct {
	deps   Deps
	logger *slog.Logger
	srv    *http.Server

	checkTimeout    time.Duration
	shutdownTimeout time.Duration
}

// New creates a server listening on addr.
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:            deps,
		logger:          logger,
		checkTimeout:    2 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	if s.deps.Middleware != nil {
		r.Use(s.deps.Middleware)
	}

	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if s.deps.Deposits != nil {
		r.Handle("/stream/deposits", s.deps.Deposits).Methods(http.MethodGet)
	}
	if s.deps.Trades != nil {
		r.Handle("/stream/trades", s.deps.Trades).Methods(http.MethodGet)
	}
	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.deps.Metrics).Methods(http.MethodGet)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down. Open websocket
// sessions are cancelled through their request contexts.
func (s *Server) Run(ctx context.Context) error {
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	s.srv.BaseContext = func(net.Listener) context.Context { return base }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("pong"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Instance:   s.deps.Instance,
		Version:    version.Current(),
		Components: make(map[string]string, len(s.deps.Checks)),
	}

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), s.checkTimeout)
		err := s.deps.Checks[name](ctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Components[name] = err.Error()
			continue
		}
		resp.Components[name] = "ok"
	}
	if s.deps.Topics != nil {
		resp.Topics = s.deps.Topics()
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode health failed", "error", err)
	}
}
