// Package server exposes the load and stats operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	applog "github.com/japaniel/shortwords/internal/logger"
	"github.com/japaniel/shortwords/pkg/db"
	"github.com/japaniel/shortwords/pkg/ingest"
	"github.com/japaniel/shortwords/pkg/upstream"
	"github.com/rs/cors"
)

// StatsStore is the read side the handlers need from the store.
type StatsStore interface {
	TopWords(ctx context.Context, k int) ([]db.WordStat, error)
	Ping(ctx context.Context) error
}

// Server carries the dependencies every handler uses. Nothing is global.
type Server struct {
	store    StatsStore
	fetcher  ingest.Fetcher
	ingester *ingest.Ingester
	logger   *log.Logger

	// CORSOrigins lists the origins allowed to call the API; "*" allows any.
	CORSOrigins []string
}

// New wires a Server. A nil logger discards output.
func New(store StatsStore, fetcher ingest.Fetcher, ingester *ingest.Ingester, logger *log.Logger) *Server {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Server{
		store:       store,
		fetcher:     fetcher,
		ingester:    ingester,
		logger:      logger,
		CORSOrigins: []string{"*"},
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHello)
	r.Post("/", s.handleHello)
	r.Post("/load", s.handleLoad)
	r.Get("/stats", s.handleStats)
	r.Get("/health", s.handleHealth)

	return cors.New(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
// Listen errors (port in use and the like) are returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		s.logger.Debug("hello", "body", string(body))
	} else {
		s.logger.Debug("hello", "query", r.URL.RawQuery)
	}
	writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := requiredInt(q.Get("from"), "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := requiredInt(q.Get("to"), "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	n, err := ingest.Load(r.Context(), s.fetcher, s.ingester, upstream.Query{From: from, To: to, Tags: q.Get("tags")})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ingest.ErrFetch) {
			status = http.StatusBadGateway
		}
		s.logger.Error("load failed", "from", from, "to", to, "err", err)
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("k")
	k, err := strconv.Atoi(raw)
	if err != nil || k < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("k must be a non-negative integer, got %q", raw))
		return
	}
	stats, err := s.store.TopWords(r.Context(), k)
	if err != nil {
		s.logger.Error("stats failed", "k", k, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs each request method, path, status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func requiredInt(raw, name string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer unix timestamp, got %q", name, raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
