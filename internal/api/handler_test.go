package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sddrun/internal/pubsub"
	"github.com/zjrosen/sddrun/internal/sdd"
)

// === Test Helpers ===

type mockRunner struct {
	mock.Mock
}

func newMockRunner(t *testing.T) *mockRunner {
	m := &mockRunner{}
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockRunner) Execute(ctx context.Context, req sdd.Request) (sdd.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(sdd.Result), args.Error(1)
}

func (m *mockRunner) Commands(projectPath string) ([]sdd.Resolution, error) {
	args := m.Called(projectPath)
	res, _ := args.Get(0).([]sdd.Resolution)
	return res, args.Error(1)
}

func (m *mockRunner) Instructions(c sdd.Command, projectPath string) (string, []byte, error) {
	args := m.Called(c, projectPath)
	data, _ := args.Get(1).([]byte)
	return args.String(0), data, args.Error(2)
}

func intPtr(v int) *int { return &v }

func postExecute(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/commands/execute", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// === Tests ===

func TestHandler_Execute(t *testing.T) {
	runner := newMockRunner(t)
	want := sdd.Result{Success: true, Stdout: "ok\n", ExitCode: intPtr(0), DurationMS: 12}
	runner.On("Execute", mock.Anything, sdd.Request{
		Command:     sdd.CommandFix,
		TaskID:      "1.2",
		SpecPath:    "/work/spec",
		ProjectPath: "/work/project",
	}).Return(want, nil).Once()

	h := NewHandler(HandlerConfig{Runner: runner})
	w := postExecute(t, h, `{"command":"sdd-fix","task_id":"1.2","spec_path":"/work/spec","project_path":"/work/project"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "ok\n", got["stdout"])
	assert.Equal(t, float64(0), got["exit_code"])
	assert.Nil(t, got["error_message"])
}

func TestHandler_Execute_FailedResultIsNotAnHTTPError(t *testing.T) {
	runner := newMockRunner(t)
	msg := sdd.TimeoutMessage
	runner.On("Execute", mock.Anything, mock.Anything).
		Return(sdd.Result{Success: false, ErrorMessage: &msg, DurationMS: 300000}, nil).Once()

	h := NewHandler(HandlerConfig{Runner: runner})
	w := postExecute(t, h, `{"command":"sdd-check-task","task_id":"1","spec_path":"/s","project_path":"/p"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var got sdd.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.False(t, got.Success)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
}

func TestHandler_Execute_InvalidJSON(t *testing.T) {
	h := NewHandler(HandlerConfig{Runner: newMockRunner(t)})

	w := postExecute(t, h, "not json")

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_json", decodeError(t, w).Code)
}

func TestHandler_Execute_UnknownCommandNeverReachesRunner(t *testing.T) {
	runner := newMockRunner(t)
	h := NewHandler(HandlerConfig{Runner: runner})

	w := postExecute(t, h, `{"command":"rm -rf","task_id":"1","spec_path":"/s","project_path":"/p"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "invalid_command", resp.Code)
	assert.Equal(t, "rm -rf", resp.Details)
	runner.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestHandler_Execute_RejectionStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid project path",
			err:        &sdd.RequestError{Err: sdd.ErrInvalidProjectPath, Value: "relative/path"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_project_path",
		},
		{
			name:       "missing scaffold",
			err:        &sdd.RequestError{Err: sdd.ErrMissingScaffold, Value: "/p/.agent-sdd"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "missing_scaffold",
		},
		{
			name:       "invalid spec path",
			err:        &sdd.RequestError{Err: sdd.ErrInvalidSpecPath, Value: "/nope"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_spec_path",
		},
		{
			name:       "not admitted",
			err:        &sdd.RequestError{Err: sdd.ErrAdmission, Value: "sdd-fix"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "not_admitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newMockRunner(t)
			runner.On("Execute", mock.Anything, mock.Anything).Return(sdd.Result{}, tt.err).Once()

			h := NewHandler(HandlerConfig{Runner: runner})
			w := postExecute(t, h, `{"command":"sdd-fix","task_id":"1","spec_path":"/s","project_path":"/p"}`)

			require.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Details)
		})
	}
}

func TestHandler_Commands(t *testing.T) {
	runner := newMockRunner(t)
	runner.On("Commands", "/work/project").Return([]sdd.Resolution{
		{Command: sdd.CommandExecuteTask, Kind: sdd.Resolved, ScriptPath: "/work/project/.agent-sdd/scripts/sdd-execute-task.sh"},
		{Command: sdd.CommandFix, Kind: sdd.Unresolved},
	}, nil).Once()

	h := NewHandler(HandlerConfig{Runner: runner})
	req := httptest.NewRequest(http.MethodGet, "/commands?project=/work/project", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Project  string `json:"project"`
		Total    int    `json:"total"`
		Commands []struct {
			Command string `json:"command"`
			Kind    string `json:"kind"`
		} `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "/work/project", resp.Project)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Commands, 2)
	assert.Equal(t, "sdd-execute-task", resp.Commands[0].Command)
	assert.Equal(t, "script", resp.Commands[0].Kind)
}

func TestHandler_Commands_RequiresProject(t *testing.T) {
	h := NewHandler(HandlerConfig{Runner: newMockRunner(t)})

	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Code)
}

func TestHandler_Commands_MissingScaffold(t *testing.T) {
	runner := newMockRunner(t)
	runner.On("Commands", "/work/empty").
		Return(nil, &sdd.RequestError{Err: sdd.ErrMissingScaffold, Value: "/work/empty/.agent-sdd"}).Once()

	h := NewHandler(HandlerConfig{Runner: runner})
	req := httptest.NewRequest(http.MethodGet, "/commands?project=/work/empty", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "missing_scaffold", decodeError(t, w).Code)
}

func TestHandler_Instructions(t *testing.T) {
	runner := newMockRunner(t)
	runner.On("Instructions", sdd.CommandTweak, "/work/project").
		Return("/work/project/.agent-sdd/instructions/sdd-tweak.md", []byte("# Tweak\n"), nil).Once()

	h := NewHandler(HandlerConfig{Runner: runner, InstructionsTTL: time.Minute})

	// The second request is served from the cache; Once() fails the test otherwise.
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/commands/sdd-tweak/instructions?project=/work/project", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp InstructionsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, sdd.CommandTweak, resp.Command)
		assert.Equal(t, "# Tweak\n", resp.Content)
		assert.Equal(t, "/work/project/.agent-sdd/instructions/sdd-tweak.md", resp.Path)
	}
}

func TestHandler_InvalidateInstructions(t *testing.T) {
	runner := newMockRunner(t)
	runner.On("Instructions", sdd.CommandTweak, "/work/project").
		Return("/work/project/.agent-sdd/instructions/sdd-tweak.md", []byte("# Old\n"), nil).Once()
	runner.On("Instructions", sdd.CommandTweak, "/work/project").
		Return("/work/project/.agent-sdd/instructions/sdd-tweak.md", []byte("# New\n"), nil).Once()

	h := NewHandler(HandlerConfig{Runner: runner, InstructionsTTL: time.Hour})
	get := func() string {
		req := httptest.NewRequest(http.MethodGet, "/commands/sdd-tweak/instructions?project=/work/project", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var resp InstructionsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Content
	}

	require.Equal(t, "# Old\n", get())
	require.Equal(t, "# Old\n", get())

	h.InvalidateInstructions(context.Background(), "/work/project/")
	require.Equal(t, "# New\n", get())
}

func TestHandler_Instructions_CacheDisabled(t *testing.T) {
	runner := newMockRunner(t)
	runner.On("Instructions", sdd.CommandFix, "/p").Return("/p/.agent-sdd/instructions/sdd-fix.md", []byte("x"), nil).Twice()

	h := NewHandler(HandlerConfig{Runner: runner})
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/commands/sdd-fix/instructions?project=/p", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestHandler_Instructions_Errors(t *testing.T) {
	runner := newMockRunner(t)
	runner.On("Instructions", sdd.CommandFix, "/p").
		Return("", nil, fmt.Errorf("%w for sdd-fix in /p/.agent-sdd/instructions", sdd.ErrNoInstructions)).Once()
	h := NewHandler(HandlerConfig{Runner: runner, InstructionsTTL: time.Minute})

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCode   string
	}{
		{"missing document", "/commands/sdd-fix/instructions?project=/p", http.StatusNotFound, "no_instructions"},
		{"unknown command", "/commands/bogus/instructions?project=/p", http.StatusBadRequest, "invalid_command"},
		{"missing project", "/commands/sdd-fix/instructions", http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			w := httptest.NewRecorder()
			h.Routes().ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}

func TestHandler_Health(t *testing.T) {
	h := NewHandler(HandlerConfig{Runner: newMockRunner(t)})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"sdd-execute-task", "sdd-fix", "sdd-tweak", "sdd-check-task", "sdd-queue-fix", "sdd-queue-tweak"}, resp.Commands)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(HandlerConfig{Runner: newMockRunner(t)})

	req := httptest.NewRequest(http.MethodGet, "/commands/execute", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandler_StreamEvents_Disabled(t *testing.T) {
	h := NewHandler(HandlerConfig{Runner: newMockRunner(t)})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "events_unavailable", decodeError(t, w).Code)
}

func TestHandler_StreamEvents(t *testing.T) {
	broker := pubsub.NewBroker[sdd.Event]()
	defer broker.Close()
	logs := pubsub.NewBroker[string]()
	defer logs.Close()

	h := NewHandler(HandlerConfig{
		Runner: newMockRunner(t),
		Events: broker,
		Logs:   logs.Subscribe,
	})
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?logs=true", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readFrames(resp)
	first := <-frames
	assert.Equal(t, "connected", first.event)

	// Subscriptions are registered before the connected frame is written.
	broker.Publish(pubsub.StartedEvent, sdd.Event{
		ExecutionID: "exec-1",
		Request:     sdd.Request{Command: sdd.CommandFix, TaskID: "1.2"},
	})
	started := <-frames
	assert.Equal(t, "execution.started", started.event)
	var payload EventResponse
	require.NoError(t, json.Unmarshal([]byte(started.data), &payload))
	assert.Equal(t, "exec-1", payload.Event.ExecutionID)
	assert.Equal(t, sdd.CommandFix, payload.Event.Request.Command)

	logs.Publish(pubsub.LogEvent, "[INFO] [exec] execution finished")
	line := <-frames
	assert.Equal(t, "log", line.event)
	assert.Contains(t, line.data, "execution finished")
}

func TestHandler_StreamEvents_Heartbeat(t *testing.T) {
	broker := pubsub.NewBroker[sdd.Event]()
	defer broker.Close()

	h := NewHandler(HandlerConfig{Runner: newMockRunner(t), Events: broker})
	h.heartbeat = 10 * time.Millisecond
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == ": heartbeat" {
			return
		}
	}
	t.Fatal("no heartbeat received")
}

func TestHandler_CloseStreamsEndsOpenStreams(t *testing.T) {
	broker := pubsub.NewBroker[sdd.Event]()
	defer broker.Close()

	h := NewHandler(HandlerConfig{Runner: newMockRunner(t), Events: broker})
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := readFrames(resp)
	require.Equal(t, "connected", (<-frames).event)

	h.CloseStreams()
	h.CloseStreams()

	select {
	case _, ok := <-frames:
		require.False(t, ok, "stream should end without further frames")
	case <-ctx.Done():
		t.Fatal("stream still open after CloseStreams")
	}
}

type frame struct {
	event string
	data  string
}

// readFrames parses SSE frames, skipping comments.
func readFrames(resp *http.Response) <-chan frame {
	out := make(chan frame, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		var cur frame
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if cur.event != "" {
					out <- cur
				}
				cur = frame{}
			case strings.HasPrefix(line, "event: "):
				cur.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return out
}
