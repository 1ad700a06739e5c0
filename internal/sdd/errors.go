package sdd

import "errors"

// Request-rejected errors. None of them is ever reported inside a Result.
var (
	ErrInvalidCommand     = errors.New("invalid command")
	ErrInvalidProjectPath = errors.New("invalid project path")
	ErrMissingScaffold    = errors.New("missing scaffold directory")
	ErrInvalidSpecPath    = errors.New("invalid spec path")
	ErrAdmission          = errors.New("execution not admitted")
)

// ErrNoInstructions reports that a scaffold has no instruction document for a
// command.
var ErrNoInstructions = errors.New("no instructions")

// RequestError describes why a request was rejected before execution.
// Use errors.Is against the Err* sentinels to branch on the kind.
type RequestError struct {
	Err    error
	Value  string
	Reason string
}

func (e *RequestError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Reason
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
