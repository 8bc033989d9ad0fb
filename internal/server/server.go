// Package server exposes the advisor over a small JSON HTTP API.
// Unauthenticated; intended for localhost or a trusted network segment.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"cronsage/internal/advisor"
	logx "cronsage/pkg/logx"
)

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RatePerSec limits mutating requests (ingest and track).
	RatePerSec int
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8530"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
}

type Server struct {
	cfg     Config
	adv     *advisor.Advisor
	log     logx.Logger
	router  chi.Router
	limiter *rate.Limiter
}

func New(cfg Config, adv *advisor.Advisor, log logx.Logger) *Server {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:     cfg,
		adv:     adv,
		log:     log,
		router:  chi.NewRouter(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestLogger)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/jobs/{job}/prediction", s.handlePrediction)
		r.Post("/predictions", s.handlePredictBatch)
		r.Get("/metrics/accuracy", s.handleAccuracy)
		r.Get("/report", s.handleReport)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/executions", s.handleRecord)
			r.Post("/executions/track", s.handleTrack)
		})
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.status),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
