package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/observability"
	"github.com/dedezza1D/bibtask/internal/store"
)

// Server is the read-only operator API over the queue store.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	store      store.Queue
}

type Config struct {
	Port string
}

func routeName(r *http.Request) string {
	if rt := mux.CurrentRoute(r); rt != nil {
		if tpl, err := rt.GetPathTemplate(); err == nil && tpl != "" {
			return tpl
		}
	}
	return r.URL.Path
}

func instrument(r *mux.Router, logger *zap.Logger) {
	// order matters
	r.Use(observability.RequestIDMiddleware)
	r.Use(observability.TracingMiddleware(routeName))
	r.Use(observability.HTTPMetricsMiddleware(routeName))
	r.Use(observability.AccessLogMiddleware(logger, routeName))
}

func NewServer(cfg Config, logger *zap.Logger, st store.Queue) *Server {
	r := mux.NewRouter()
	instrument(r, logger)

	srv := &Server{
		logger: logger,
		store:  st,
	}

	// Metrics
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Health
	r.HandleFunc("/api/v1/health", srv.handleHealth).Methods(http.MethodGet)

	// Queue
	r.HandleFunc("/api/v1/status", srv.handleStatusCounts).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tasks", srv.handleListTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tasks/{id:[0-9]+}", srv.handleGetTask).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tasks/{id:[0-9]+}/runs", srv.handleListRuns).Methods(http.MethodGet)

	s := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv.httpServer = s
	return srv
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
