// Package admin is a small HTTP API, run on its own port, exposing worker
// health, current claim status, Prometheus metrics, and a WebSocket feed
// of lifecycle events. Read-only: nothing here drives the run loop.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainworker/chainworker/internal/config"
	"github.com/chainworker/chainworker/internal/controller"
	"github.com/chainworker/chainworker/internal/events"
)

// Snapshotter is the narrow view the admin surface needs onto the
// Controller, so this package never imports the concrete type.
type Snapshotter interface {
	Snapshot() controller.Snapshot
}

// Server is the Admin Surface's HTTP server.
type Server struct {
	cfg     config.AdminConfig
	ctrl    Snapshotter
	hub     *hub
	router  chi.Router
	httpSrv *http.Server
	alive   func() bool
	started time.Time
}

// NewServer builds the admin HTTP server. alive reports whether the main
// run loop goroutine is still live, backing GET /healthz.
func NewServer(cfg config.AdminConfig, authCfg config.AuthConfig, ctrl Snapshotter, bus events.Publisher, alive func() bool) *Server {
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		hub:     newHub(bus),
		alive:   alive,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(authCfg))
		r.Get("/status", s.handleStatus)
		r.Get("/ws/events", s.serveWS)
	})

	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Start begins serving the admin HTTP API and the event hub's fan-out
// loop. It returns immediately; Serve errors are delivered on the returned
// channel.
func (s *Server) Start(ctx context.Context) <-chan error {
	s.hub.run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully shuts down the HTTP server and the event hub.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.stop()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.alive != nil && !s.alive() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	resp := map[string]interface{}{
		"state":      snap.State,
		"task_id":    snap.TaskID,
		"run_id":     snap.RunID,
		"active":     snap.Active,
		"uptime_sec": time.Since(s.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
