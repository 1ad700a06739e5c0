package sdd

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// recordingFs counts every lookup made through it.
type recordingFs struct {
	afero.Fs
	calls atomic.Int64
}

func (r *recordingFs) Stat(name string) (os.FileInfo, error) {
	r.calls.Add(1)
	return r.Fs.Stat(name)
}

func (r *recordingFs) Open(name string) (afero.File, error) {
	r.calls.Add(1)
	return r.Fs.Open(name)
}

func (r *recordingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	r.calls.Add(1)
	return r.Fs.OpenFile(name, flag, perm)
}

// memProject lays out /work/project/.agent-sdd and /work/spec on a MemMapFs.
func memProject(t *testing.T) (afero.Fs, Request) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work/project/.agent-sdd/scripts", 0o755))
	require.NoError(t, fs.MkdirAll("/work/project/.agent-sdd/instructions", 0o755))
	require.NoError(t, fs.MkdirAll("/work/spec", 0o755))
	return fs, Request{
		Command:     CommandFix,
		TaskID:      "1.2",
		SpecPath:    "/work/spec",
		ProjectPath: "/work/project",
	}
}

func writeMem(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

// diskProject creates a real project with a scaffold and a spec directory.
func diskProject(t *testing.T) Request {
	t.Helper()
	root := t.TempDir()
	project := filepath.Join(root, "project")
	spec := filepath.Join(project, "specs", "feature")
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".agent-sdd", "scripts"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".agent-sdd", "instructions"), 0o755))
	require.NoError(t, os.MkdirAll(spec, 0o755))
	return Request{
		Command:     CommandFix,
		TaskID:      "1.2",
		SpecPath:    spec,
		ProjectPath: project,
	}
}

func writeScript(t *testing.T, req Request, c Command, body string) string {
	t.Helper()
	path := filepath.Join(req.ProjectPath, ".agent-sdd", "scripts", c.String()+".sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/usr/bin/env bash\n"+body+"\n"), 0o644))
	return path
}
