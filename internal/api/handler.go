// Package api exposes the command runner over HTTP for the desktop UI.
// It serves JSON endpoints for execution and availability and an SSE stream of
// execution events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sddrun/internal/cachemanager"
	"github.com/zjrosen/sddrun/internal/log"
	"github.com/zjrosen/sddrun/internal/pubsub"
	"github.com/zjrosen/sddrun/internal/sdd"
	"github.com/zjrosen/sddrun/internal/telemetry"
)

const heartbeatInterval = 30 * time.Second

// Runner is the subset of *sdd.Runner the handler needs.
type Runner interface {
	Execute(ctx context.Context, req sdd.Request) (sdd.Result, error)
	Commands(projectPath string) ([]sdd.Resolution, error)
	Instructions(c sdd.Command, projectPath string) (string, []byte, error)
}

// LogSubscribeFunc subscribes to formatted log lines, like log.Subscribe.
type LogSubscribeFunc func(ctx context.Context) (<-chan pubsub.Event[string], func())

// Handler provides HTTP endpoints for command execution.
type Handler struct {
	runner    Runner
	events    pubsub.Subscriber[sdd.Event]
	logs      LogSubscribeFunc
	tracer    trace.Tracer
	docs      *cachemanager.ReadThroughCache[InstructionsResponse, instructionsKey]
	docsTTL   time.Duration
	startedAt time.Time
	heartbeat time.Duration

	// closed ends every open event stream; see CloseStreams.
	closed    chan struct{}
	closeOnce sync.Once
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Runner executes commands (required).
	Runner Runner
	// Events streams execution lifecycle events to GET /events (optional).
	Events pubsub.Subscriber[sdd.Event]
	// Logs streams log lines to GET /events?logs=true (optional).
	Logs LogSubscribeFunc
	// Tracer wraps every request in a server span (optional).
	Tracer trace.Tracer
	// InstructionsTTL caches instruction documents for this long. Zero disables
	// the cache.
	InstructionsTTL time.Duration
}

type instructionsKey struct {
	command sdd.Command
	project string
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		runner:    cfg.Runner,
		events:    cfg.Events,
		logs:      cfg.Logs,
		tracer:    cfg.Tracer,
		docsTTL:   cfg.InstructionsTTL,
		startedAt: time.Now(),
		heartbeat: heartbeatInterval,
		closed:    make(chan struct{}),
	}
	h.docs = cachemanager.NewReadThroughCache[InstructionsResponse, instructionsKey](
		cachemanager.NewInMemoryCacheManager[InstructionsResponse]("instructions", cfg.InstructionsTTL, cachemanager.DefaultCleanupInterval),
		h.loadInstructions,
		cfg.InstructionsTTL <= 0,
	)
	return h
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /commands/execute", h.Execute)
	mux.HandleFunc("GET /commands", h.Commands)
	mux.HandleFunc("GET /commands/{command}/instructions", h.Instructions)
	mux.HandleFunc("GET /events", h.StreamEvents)
	mux.HandleFunc("GET /health", h.Health)

	return telemetry.HTTPMiddleware(h.tracer, mux)
}

// Execute runs one command and returns its Result. Execution failures are
// reported in the Result with status 200; only rejected requests are errors.
// POST /commands/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var body ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}

	req, err := sdd.NewRequest(body.Command, body.TaskID, body.SpecPath, body.ProjectPath)
	if err != nil {
		h.writeRequestError(w, err)
		return
	}

	res, err := h.runner.Execute(r.Context(), req)
	if err != nil {
		h.writeRequestError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Commands reports what the project's scaffold provides for each command.
// GET /commands?project=/abs/path
func (h *Handler) Commands(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "project query parameter is required", "")
		return
	}

	resolutions, err := h.runner.Commands(project)
	if err != nil {
		h.writeRequestError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, CommandsResponse{
		Project:  project,
		Commands: resolutions,
		Total:    len(resolutions),
	})
}

// Instructions returns the instruction document for one command.
// GET /commands/{command}/instructions?project=/abs/path
func (h *Handler) Instructions(w http.ResponseWriter, r *http.Request) {
	c, err := sdd.ParseCommand(r.PathValue("command"))
	if err != nil {
		h.writeRequestError(w, err)
		return
	}
	project := r.URL.Query().Get("project")
	if project == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "project query parameter is required", "")
		return
	}

	key := instructionsKey{command: c, project: project}
	doc, err := h.docs.Get(r.Context(), instructionsCacheKey(project, c), key, h.docsTTL)
	if err != nil {
		h.writeRequestError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) loadInstructions(_ context.Context, key instructionsKey) (InstructionsResponse, error) {
	path, data, err := h.runner.Instructions(key.command, key.project)
	if err != nil {
		return InstructionsResponse{}, err
	}
	return InstructionsResponse{
		Command: key.command,
		Path:    path,
		Content: string(data),
	}, nil
}

// StreamEvents streams execution events, and log lines when ?logs=true.
// GET /events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeError(w, http.StatusNotImplemented, "events_unavailable", "Event streaming is not enabled", "")
		return
	}

	ctx := r.Context()
	events, release := h.events.Subscribe(ctx)
	defer release()

	var logs <-chan pubsub.Event[string]
	if h.logs != nil && r.URL.Query().Get("logs") == "true" {
		var releaseLogs func()
		logs, releaseLogs = h.logs(ctx)
		defer releaseLogs()
	}

	h.streamEvents(w, r, events, logs)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Uptime:   time.Since(h.startedAt).Round(time.Second).String(),
		Commands: commandNames(),
	})
}

// CloseStreams ends every open GET /events stream. Streams opened afterwards
// return right after the connected frame.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closed) })
}

// InvalidateInstructions drops the cached instruction documents of a project.
func (h *Handler) InvalidateInstructions(ctx context.Context, project string) {
	cmds := sdd.AllCommands()
	keys := make([]string, len(cmds))
	for i, c := range cmds {
		keys[i] = instructionsCacheKey(project, c)
	}
	h.docs.Invalidate(ctx, keys...)
	log.Debug(log.CatCache, "invalidated instruction documents", "project", project)
}

// === Helpers ===

func instructionsCacheKey(project string, c sdd.Command) string {
	return filepath.Clean(project) + "\x00" + c.String()
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan pubsub.Event[sdd.Event], logs <-chan pubsub.Event[string]) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closed:
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(EventResponse{
				Type:      string(event.Type),
				Timestamp: event.Timestamp,
				Event:     event.Payload,
			})
			if err != nil {
				log.ErrorErr(log.CatAPI, "Failed to marshal event", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case line, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			data, _ := json.Marshal(LogResponse{Line: line.Payload, Timestamp: line.Timestamp})
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", pubsub.LogEvent, data)
			flusher.Flush()
		}
	}
}

// writeRequestError maps runner rejections to HTTP status codes.
func (h *Handler) writeRequestError(w http.ResponseWriter, err error) {
	var reqErr *sdd.RequestError
	details := ""
	if errors.As(err, &reqErr) {
		details = reqErr.Value
	}

	switch {
	case errors.Is(err, sdd.ErrInvalidCommand):
		h.writeError(w, http.StatusBadRequest, "invalid_command", err.Error(), details)
	case errors.Is(err, sdd.ErrInvalidProjectPath):
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_project_path", err.Error(), details)
	case errors.Is(err, sdd.ErrMissingScaffold):
		h.writeError(w, http.StatusUnprocessableEntity, "missing_scaffold", err.Error(), details)
	case errors.Is(err, sdd.ErrInvalidSpecPath):
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_spec_path", err.Error(), details)
	case errors.Is(err, sdd.ErrNoInstructions):
		h.writeError(w, http.StatusNotFound, "no_instructions", err.Error(), details)
	case errors.Is(err, sdd.ErrAdmission):
		h.writeError(w, http.StatusServiceUnavailable, "not_admitted", err.Error(), details)
	default:
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Request failed", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func commandNames() []string {
	cmds := sdd.AllCommands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.String()
	}
	return names
}
