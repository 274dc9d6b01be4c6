package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	v, err := LoadConfig("")
	require.NoError(t, err)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "https://matrix.org", cfg.Server)
	assert.Equal(t, "keyring", cfg.Credentials.Backend)
	assert.Equal(t, 20, cfg.Media.Workers)
	assert.NotEmpty(t, cfg.CacheDir)
	assert.NotEmpty(t, cfg.ConfigDir)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "fractal.yaml")

	content := []byte("server: https://example.org\ncache_dir: " + dir + "\nmedia:\n  workers: 5\n")
	require.NoError(t, os.WriteFile(file, content, 0o600))

	v, err := LoadConfig(file)
	require.NoError(t, err)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", cfg.Server)
	assert.Equal(t, dir, cfg.CacheDir)
	assert.Equal(t, 5, cfg.Media.Workers)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("FRACTAL_SERVER", "https://env.example.org")

	v, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.org", v.GetString("server"))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/fractal.yaml")
	assert.Error(t, err)
}
