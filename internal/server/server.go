// Package server exposes the task and profile tables over HTTP so several
// clients can share one store. Every request carries a bearer token; the
// token's subject is the only owner a request may touch.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/metrics"
	"github.com/Makepad-fr/tada/internal/model"
)

type Server struct {
	tasks    *resource[model.Task, model.TaskPatch]
	profiles *resource[model.Profile, model.ProfilePatch]
	secret   []byte

	registry *prometheus.Registry
	metrics  *metrics.HTTP
	tracer   trace.Tracer
	upgrader websocket.Upgrader
}

type Option func(*Server)

// WithRegistry collects server metrics into reg instead of a private
// registry. /metrics serves whatever reg gathers.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// New serves tasks and profiles, verifying tokens with secret.
func New(tasks gateway.TaskTable, profiles gateway.ProfileTable, secret []byte, opts ...Option) (*Server, error) {
	if len(secret) == 0 {
		return nil, errors.New("server: a token secret is required")
	}
	s := &Server{
		secret: secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// bearer auth, not cookies, so any origin is fine
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/Makepad-fr/tada/internal/server")
	}
	s.metrics = metrics.NewHTTP(s.registry)
	s.tasks = &resource[model.Task, model.TaskPatch]{
		kind:  gateway.KindTasks,
		table: tasks,
		claim: claimTask,
	}
	s.profiles = &resource[model.Profile, model.ProfilePatch]{
		kind:  gateway.KindProfiles,
		table: profiles,
		claim: claimProfile,
	}
	return s, nil
}

// Registry is where the server's collectors live.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Route("/tasks", func(r chi.Router) { s.tasks.routes(s, r) })
		r.Route("/profiles", func(r chi.Router) { s.profiles.routes(s, r) })
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		glog.Infof("[server]listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	glog.Infof("[server]shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
