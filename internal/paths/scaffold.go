// Package paths provides path resolution utilities for Agent-SDD projects.
package paths

import (
	"os"
	"path/filepath"
)

// DefaultScaffoldName is the marker directory every Agent-SDD project carries.
const DefaultScaffoldName = ".agent-sdd"

const (
	scriptsDirName      = "scripts"
	instructionsDirName = "instructions"
)

// ProjectRoot normalizes user input into an absolute project directory.
//
// Input normalization:
//   - "/path/to/project" -> "/path/to/project"
//   - "/path/to/project/.agent-sdd" -> "/path/to/project"
//   - "" -> current working directory
//
// The returned path is not checked for existence; validation happens later.
func ProjectRoot(path, scaffoldName string) (string, error) {
	if path == "" {
		path = "."
	}
	if scaffoldName == "" {
		scaffoldName = DefaultScaffoldName
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if filepath.Base(abs) == scaffoldName {
		return filepath.Dir(abs), nil
	}
	return abs, nil
}

// ScaffoldDir returns the scaffold marker directory for a project.
func ScaffoldDir(projectRoot, scaffoldName string) string {
	if scaffoldName == "" {
		scaffoldName = DefaultScaffoldName
	}
	return filepath.Join(projectRoot, scaffoldName)
}

// ScriptsDir returns the directory holding runnable command scripts.
func ScriptsDir(scaffoldDir string) string {
	return filepath.Join(scaffoldDir, scriptsDirName)
}

// InstructionsDir returns the directory holding human-readable command docs.
func InstructionsDir(scaffoldDir string) string {
	return filepath.Join(scaffoldDir, instructionsDirName)
}

// ConfigDir returns ~/.config/sddrun, or empty string if home dir is unavailable.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sddrun")
}

// DefaultTracesFilePath returns ~/.config/sddrun/traces/traces.jsonl, or empty
// string if home dir is unavailable.
func DefaultTracesFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}
