package sdd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/zjrosen/sddrun/internal/paths"
)

// ValidateCommand rejects commands outside the allow-list. It never touches the
// filesystem.
func ValidateCommand(c Command) error {
	if c.Valid() {
		return nil
	}
	return &RequestError{
		Err:    ErrInvalidCommand,
		Value:  c.String(),
		Reason: fmt.Sprintf("command %q is not allowed", c.String()),
	}
}

// PathValidator checks that a request points at a real Agent-SDD project.
type PathValidator struct {
	fs           afero.Fs
	scaffoldName string
}

// NewPathValidator creates a validator reading through fs. An empty scaffoldName
// selects paths.DefaultScaffoldName.
func NewPathValidator(fs afero.Fs, scaffoldName string) *PathValidator {
	if scaffoldName == "" {
		scaffoldName = paths.DefaultScaffoldName
	}
	return &PathValidator{fs: fs, scaffoldName: scaffoldName}
}

// Validate runs the project, scaffold and spec checks in that order and returns
// the scaffold directory. The first failing check short-circuits the rest.
func (v *PathValidator) Validate(req Request) (string, error) {
	scaffold, err := v.ValidateProject(req.ProjectPath)
	if err != nil {
		return "", err
	}

	if !v.isAbsDir(req.SpecPath) {
		return "", &RequestError{
			Err:    ErrInvalidSpecPath,
			Value:  req.SpecPath,
			Reason: fmt.Sprintf("%q does not exist or is not an absolute directory path", req.SpecPath),
		}
	}

	return scaffold, nil
}

// ValidateProject runs only the project and scaffold checks.
func (v *PathValidator) ValidateProject(projectPath string) (string, error) {
	if !v.isAbsDir(projectPath) {
		return "", &RequestError{
			Err:    ErrInvalidProjectPath,
			Value:  projectPath,
			Reason: fmt.Sprintf("%q does not exist or is not an absolute directory path", projectPath),
		}
	}

	scaffold := paths.ScaffoldDir(projectPath, v.scaffoldName)
	if !v.isDir(scaffold) {
		return "", &RequestError{
			Err:    ErrMissingScaffold,
			Value:  scaffold,
			Reason: fmt.Sprintf("project does not contain %s directory", v.scaffoldName),
		}
	}
	return scaffold, nil
}

func (v *PathValidator) isAbsDir(path string) bool {
	return path != "" && filepath.IsAbs(path) && v.isDir(path)
}

func (v *PathValidator) isDir(path string) bool {
	ok, err := afero.IsDir(v.fs, path)
	return err == nil && ok
}
