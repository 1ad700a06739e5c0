package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectRoot_AcceptsProjectOrScaffold(t *testing.T) {
	dir := t.TempDir()

	got, err := ProjectRoot(dir, "")
	require.NoError(t, err)
	require.Equal(t, dir, got)

	got, err = ProjectRoot(filepath.Join(dir, ".agent-sdd"), "")
	require.NoError(t, err)
	require.Equal(t, dir, got)

	got, err = ProjectRoot(filepath.Join(dir, ".custom"), ".custom")
	require.NoError(t, err)
	require.Equal(t, dir, got)
}

func TestProjectRoot_EmptyUsesWorkingDirectory(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	got, err := ProjectRoot("", "")
	require.NoError(t, err)
	require.Equal(t, cwd, got)
}

func TestScaffoldLayout(t *testing.T) {
	scaffold := ScaffoldDir("/work/proj", "")
	require.Equal(t, filepath.Join("/work/proj", ".agent-sdd"), scaffold)
	require.Equal(t, filepath.Join(scaffold, "scripts"), ScriptsDir(scaffold))
	require.Equal(t, filepath.Join(scaffold, "instructions"), InstructionsDir(scaffold))
}

func TestDefaultTracesFilePath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p := DefaultTracesFilePath()
	require.True(t, filepath.IsAbs(p))
	require.Equal(t, "traces.jsonl", filepath.Base(p))
}
