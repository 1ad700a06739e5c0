package api

import (
	"time"

	"github.com/zjrosen/sddrun/internal/sdd"
)

// ExecuteRequest is the request body for POST /commands/execute.
type ExecuteRequest struct {
	Command     string `json:"command"`
	TaskID      string `json:"task_id"`
	SpecPath    string `json:"spec_path"`
	ProjectPath string `json:"project_path"`
}

// CommandsResponse is the response body for GET /commands.
type CommandsResponse struct {
	Project  string           `json:"project"`
	Commands []sdd.Resolution `json:"commands"`
	Total    int              `json:"total"`
}

// InstructionsResponse is the response body for GET /commands/{command}/instructions.
type InstructionsResponse struct {
	Command sdd.Command `json:"command"`
	Path    string      `json:"path"`
	Content string      `json:"content"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string   `json:"status"`
	Uptime   string   `json:"uptime"`
	Commands []string `json:"commands"`
}

// EventResponse is the data of an execution.* SSE event.
type EventResponse struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Event     sdd.Event `json:"event"`
}

// LogResponse is the data of a log SSE event.
type LogResponse struct {
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
