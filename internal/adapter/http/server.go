package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/fire-dispatch-etl/internal/pipeline"
)

// Reconciler runs a single reconcile cycle on demand.
type Reconciler interface {
	RunOnce(ctx context.Context) (pipeline.Result, error)
}

// Server exposes health, readiness, metrics, and manual trigger endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /reconcile routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, reconciler Reconciler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute, // a reconcile cycle paces its posts
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /reconcile", s.handleReconcile(reconciler))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleReconcile(r Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		res, err := r.RunOnce(req.Context())
		switch {
		case errors.Is(err, pipeline.ErrCycleInProgress):
			sharedobs.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case err != nil:
			s.logger.Error("manual reconcile failed", "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			sharedobs.WriteJSON(w, http.StatusOK, res)
		}
	}
}
