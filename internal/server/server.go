// Package server exposes a read-only JSON view of a relay over HTTP, for
// dashboards and for watching a run from another terminal.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nick-dorsch/relay/internal/coordinator"
	"github.com/nick-dorsch/relay/internal/logging"
	"github.com/nick-dorsch/relay/pkg/models"
)

type Server struct {
	coord  *coordinator.Coordinator
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewServer(coord *coordinator.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{coord: coord, logger: logger}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/next", s.handleNext)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTask)
	mux.HandleFunc("GET /api/tasks/{id}/dependencies", s.handleDependencies)
	mux.HandleFunc("GET /api/tasks/{id}/dependents", s.handleDependents)
	return mux
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("serving relay state", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.ReadState(r.Context())
	s.respond(w, st, err)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.GetNextTask(r.Context())
	s.respond(w, res, err)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.ReadState(r.Context())
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	tasks := st.Project.Tasks
	if status := models.TaskStatus(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			s.respond(w, nil, models.Errorf(models.KindInvalidArgument, "", "unknown status %q", status))
			return
		}
		tasks = st.Project.WithStatus(status)
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	s.respond(w, tasks, nil)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.coord.GetTask(r.Context(), r.PathValue("id"))
	s.respond(w, t, err)
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := s.coord.Dependencies(r.Context(), r.PathValue("id"))
	s.respond(w, map[string]any{"dependencies": deps}, err)
}

func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	deps, err := s.coord.Dependents(r.Context(), r.PathValue("id"))
	s.respond(w, map[string]any{"dependents": deps}, err)
}

func (s *Server) respond(w http.ResponseWriter, data any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		code := statusCode(err)
		if code == http.StatusInternalServerError {
			s.logger.Error("request failed", "err", err)
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(models.NewErrorPayload(err))
		return
	}
	json.NewEncoder(w).Encode(data)
}

func statusCode(err error) int {
	switch models.KindOf(err) {
	case models.KindNotFound, models.KindUninitialized:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
