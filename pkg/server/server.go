// Package server exposes the latest snapshot and diagram over HTTP.
//
// # Endpoints
//
//	GET  /graph/svg       latest rendered diagram (image/svg+xml)
//	GET  /graph/json      latest snapshot as canonical JSON
//	POST /refresh         trigger a refresh cycle, 202 + handle ID
//	GET  /refresh/{id}    status of a triggered cycle
//	GET  /ws              websocket pushing {"generation": n} on change
//	GET  /history         archived generations (when history is enabled)
//	GET  /history/{gen}   one archived snapshot
//	GET  /healthz         liveness and current generation
//	GET  /metrics         Prometheus metrics
//
// Before the first successful cycle the graph endpoints answer 503 with
// a JSON error body. After that, readers always get the last good
// artifact even while renders fail.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/siostam/siostam/pkg/config"
	"github.com/siostam/siostam/pkg/core"
	"github.com/siostam/siostam/pkg/history"
	apperrors "github.com/siostam/siostam/pkg/errors"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Server serves the topology API.
type Server struct {
	core    *core.Core
	archive history.Store // nil when history is disabled
	cfg     config.ServerConfig
	logger  *log.Logger
}

// New creates a server. archive may be nil.
func New(c *core.Core, archive history.Store, cfg config.ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{core: c, archive: archive, cfg: cfg, logger: logger}
}

// Handler builds the router. Exposed separately so tests can drive it
// through httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/graph/svg", s.handleGraphSVG)
	r.Get("/graph/json", s.handleGraphJSON)
	r.Post("/refresh", s.handleRefresh)
	r.Get("/refresh/{id}", s.handleRefreshStatus)
	r.Get("/ws", s.handleWebsocket)
	if s.archive != nil {
		r.Get("/history", s.handleHistory)
		r.Get("/history/{generation}", s.handleHistorySnapshot)
	}
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) handleGraphSVG(w http.ResponseWriter, r *http.Request) {
	artifact, ok := s.core.LatestArtifact()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, apperrors.ErrCodeNotReady,
			"no diagram rendered yet")
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("X-Generation", strconv.FormatUint(artifact.Generation, 10))
	w.Header().Set("ETag", fmt.Sprintf("%q", artifact.Hash))
	if r.Header.Get("If-None-Match") == fmt.Sprintf("%q", artifact.Hash) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	_, _ = w.Write(artifact.Bytes)
}

func (s *Server) handleGraphJSON(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.core.LatestSnapshot()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, apperrors.ErrCodeNotReady,
			"no snapshot available yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Generation", strconv.FormatUint(snapshot.Generation, 10))
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The cycle outlives the request, so it must not inherit the
	// request's cancellation.
	h := s.core.TriggerRefresh(context.WithoutCancel(r.Context()), "http")
	w.Header().Set("Location", "/refresh/"+h.ID)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"id":         h.ID,
		"trigger":    h.Trigger,
		"started_at": h.StartedAt,
	})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, ok := s.core.Handle(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, apperrors.ErrCodeNotFound,
			"unknown refresh %s", id)
		return
	}

	body := map[string]any{
		"id":         h.ID,
		"trigger":    h.Trigger,
		"started_at": h.StartedAt,
		"finished":   h.Finished(),
	}
	if h.Finished() {
		body["generation"] = h.Generation()
		body["changed"] = h.Changed()
		if err := h.Err(); err != nil {
			body["error"] = apperrors.UserMessage(err)
			body["code"] = string(apperrors.GetCode(err))
		}
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	generations, err := s.archive.Generations(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal,
			"listing archive: %v", err)
		return
	}
	if generations == nil {
		generations = []uint64{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"generations": generations})
}

func (s *Server) handleHistorySnapshot(w http.ResponseWriter, r *http.Request) {
	generation, err := strconv.ParseUint(chi.URLParam(r, "generation"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, apperrors.ErrCodeNotFound,
			"invalid generation")
		return
	}
	snapshot, err := s.archive.Get(r.Context(), generation)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, apperrors.ErrCodeNotFound,
			"generation %d not archived", generation)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal,
			"reading archive: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if snapshot, ok := s.core.LatestSnapshot(); ok {
		body["generation"] = snapshot.Generation
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code apperrors.Code, format string, args ...any) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": fmt.Sprintf(format, args...),
		},
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
