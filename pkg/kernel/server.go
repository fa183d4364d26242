package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/manthysbr/librarian/internal/config"
	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/services"
)

// Server exposes the matcher over HTTP: runs, settings, tools and a
// debug event stream.
type Server struct {
	logger   *slog.Logger
	runner   *services.Runner
	eventBus *services.EventBus
	settings *config.SettingsStore
	registry *domain.ToolRegistry
	repo     interface {
		GetRun(ctx context.Context, id domain.RunID) (*domain.MatchRun, error)
		ListRuns(ctx context.Context, limit int) ([]*domain.MatchRun, error)
	}
}

func NewServer(
	logger *slog.Logger,
	runner *services.Runner,
	eventBus *services.EventBus,
	settings *config.SettingsStore,
	registry *domain.ToolRegistry,
	repo interface {
		GetRun(ctx context.Context, id domain.RunID) (*domain.MatchRun, error)
		ListRuns(ctx context.Context, limit int) ([]*domain.MatchRun, error)
	},
) *Server {
	return &Server{
		logger:   logger,
		runner:   runner,
		eventBus: eventBus,
		settings: settings,
		registry: registry,
		repo:     repo,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/healthz":
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		case r.Method == "POST" && r.URL.Path == "/v1/runs":
			s.handleCreateRun(w, r)
		case r.Method == "GET" && r.URL.Path == "/v1/runs":
			s.handleListRuns(w, r)
		case r.Method == "GET" && isRunPath(r.URL.Path):
			s.handleGetRun(w, r)
		case r.Method == "GET" && r.URL.Path == "/v1/settings":
			s.handleGetSettings(w, r)
		case r.Method == "PUT" && r.URL.Path == "/v1/settings":
			s.handleUpdateSettings(w, r)
		case r.Method == "GET" && r.URL.Path == "/v1/tools":
			s.handleListTools(w, r)
		case r.Method == "GET" && r.URL.Path == "/v1/events":
			s.handleEventsSSE(w, r)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	})
}

// isRunPath checks if an URL path matches /v1/runs/{id}
func isRunPath(path string) bool {
	const prefix = "/v1/runs/"
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	id := path[len(prefix):]
	return id != "" && !strings.Contains(id, "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleCreateRun matches every step of the posted intent document and
// returns the finished run. The call blocks until the run completes;
// progress is observable on /v1/events meanwhile.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var doc domain.IntentDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid intent document: "+err.Error())
		return
	}
	if len(doc.BDDFlow) == 0 {
		writeError(w, http.StatusBadRequest, "intent document has no bdd_flow")
		return
	}

	run, err := s.runner.Run(r.Context(), doc)
	if err != nil {
		s.logger.Error("run failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit) //nolint:errcheck
	}
	runs, err := s.repo.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	run, err := s.repo.GetRun(r.Context(), domain.RunID(id))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update domain.AppConfig
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings body: "+err.Error())
		return
	}
	if err := s.settings.UpdateConfig(r.Context(), &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.SchemaCatalogue())
}

// handleEventsSSE streams matcher events as SSE. An optional step_id
// query filters to one step; otherwise every event is streamed.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stepID := domain.StepID(r.URL.Query().Get("step_id"))
	ch, unsub := s.eventBus.Subscribe(stepID)
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(evt)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()
		}
	}
}
