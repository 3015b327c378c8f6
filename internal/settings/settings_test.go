package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSettings places a settings file at the given path inside a
// temporary repository directory.
func writeSettings(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestLoad_MissingFileUsesDefaults verifies an absent settings file is
// not an error.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
	assert.Equal(t, "sh", s.Shell)
	assert.Zero(t, s.MaxParallel)
}

// TestLoad_ParsesJSONC verifies comments and trailing commas are
// accepted, since settings files are hand-edited.
func TestLoad_ParsesJSONC(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, filepath.Join(".gantry", "settings.json"), `{
  // everything runs in bash on this machine
  "shell": "bash",
  "image": "python:3.11-slim",
  "env": {
    "CI": "true", // exported to every step
  },
  "maxParallel": 2,
}`)

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "bash", s.Shell)
	assert.Equal(t, "python:3.11-slim", s.Image)
	assert.Equal(t, "true", s.Env["CI"])
	assert.Equal(t, 2, s.MaxParallel)
}

// TestLoad_SearchOrder verifies .gantry/settings.json wins over the
// root-level gantry.json.
func TestLoad_SearchOrder(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "gantry.json", `{"shell": "zsh"}`)

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "zsh", s.Shell)

	writeSettings(t, dir, filepath.Join(".gantry", "settings.json"), `{"shell": "bash"}`)
	s, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "bash", s.Shell)
}

// TestLoad_EmptyShellFallsBack verifies an explicit empty shell is
// replaced with the default rather than producing broken exec calls.
func TestLoad_EmptyShellFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "gantry.json", `{"shell": "", "maxParallel": 4}`)

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sh", s.Shell)
	assert.Equal(t, 4, s.MaxParallel)
}

// TestLoad_Rejections verifies malformed files fail loudly instead of
// being silently ignored.
func TestLoad_Rejections(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		dir := t.TempDir()
		writeSettings(t, dir, "gantry.json", `{"shell": `)
		_, err := Load(dir)
		assert.Error(t, err)
	})

	t.Run("negative maxParallel", func(t *testing.T) {
		dir := t.TempDir()
		writeSettings(t, dir, "gantry.json", `{"maxParallel": -1}`)
		_, err := Load(dir)
		assert.Error(t, err)
	})
}
