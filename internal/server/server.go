// Package server exposes the command surface: a small local HTTP API for the
// request/response contract and a websocket stream for asynchronous events.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wablast/internal/dispatch"
	"wablast/internal/eventbus"
	"wablast/internal/history"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

type Config struct {
	Listen string
}

type Server struct {
	cfg    Config
	client transport.Client
	jobs   *dispatch.Service
	hist   *history.Store
	bus    eventbus.Bus
	log    logx.Logger

	server *http.Server
}

func New(cfg Config, client transport.Client, jobs *dispatch.Service, hist *history.Store, bus eventbus.Bus, log logx.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8077"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, client: client, jobs: jobs, hist: hist, bus: bus, log: log}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Post("/send", s.handleSend)
		r.Get("/status", s.handleStatus)
		r.Get("/client-info", s.handleClientInfo)
		r.Post("/jobs", s.handleSubmitJob)
		r.Post("/jobs/{id}/pause", s.handlePauseJob)
		r.Post("/jobs/{id}/resume", s.handleResumeJob)
		r.Post("/jobs/{id}/stop", s.handleStopJob)
		r.Get("/jobs/{id}/deliveries", s.handleDeliveries)
		r.Get("/optouts", s.handleOptOuts)
	})
	r.Get("/ws", s.handleWS)
	return r
}

// Start runs the HTTP server until ctx is canceled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("command server starting", logx.String("listen", s.cfg.Listen))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("command server shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(sctx); err != nil {
			return errors.Wrap(err, "server shutdown")
		}
		return nil
	case err := <-errCh:
		return errors.Wrap(err, "command server")
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)))
	})
}
