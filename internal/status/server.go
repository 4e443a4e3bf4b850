// Package status serves a small read-only HTTP view of the running scheduler.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence-cli/internal/config"
	"github.com/xkilldash9x/cadence-cli/internal/store"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 200
)

// LineSource exposes recent journal lines.
type LineSource interface {
	Lines() []string
}

// Server is the status HTTP server.
type Server struct {
	cfg      config.StatusConfig
	tracker  *Tracker
	recorder store.Recorder
	lines    LineSource
	logger   *zap.Logger
}

// NewServer wires the status routes. recorder and lines may be nil.
func NewServer(cfg config.StatusConfig, tracker *Tracker, recorder store.Recorder, lines LineSource, logger *zap.Logger) *Server {
	if recorder == nil {
		recorder = store.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, tracker: tracker, recorder: recorder, lines: lines, logger: logger.Named("status")}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestsPerMin > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RequestsPerMin, time.Minute))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/sessions", s.handleSessions)
	r.Get("/sessions/latest", s.handleLatest)
	r.Get("/journal", s.handleJournal)
	return r
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down within the configured grace period.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening.", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Status server forced to shut down.", zap.Error(err))
		_ = srv.Close()
	}
	<-errCh
	s.logger.Info("Status server stopped.")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.tracker.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no session has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultSessionLimit, maxSessionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.recorder.RecentSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load session history.", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session history")
		return
	}
	if recs == nil {
		recs = []store.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	lines := []string{}
	if s.lines != nil {
		lines = s.lines.Lines()
	}
	n, err := parseLimit(r.URL.Query().Get("n"), len(lines), len(lines))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lines[len(lines)-n:])
}

// parseLimit reads a positive integer, falling back to def and capping at max.
func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, max), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
