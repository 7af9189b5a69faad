package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FORGE_SERVER", "")
	t.Setenv("FORGE_LOG_LEVEL", "")

	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultServer, cfg.Server)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultPollTimeout, cfg.PollTimeout)
	require.Equal(t, dir, cfg.StateDir)
	require.Equal(t, filepath.Join(dir, "forge.log"), cfg.LogFile)
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := "server: http://blocks.internal:9000/\npollInterval: 500ms\npollTimeout: 1m\nlogLevel: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("FORGE_SERVER", "")
	t.Setenv("FORGE_LOG_LEVEL", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://blocks.internal:9000", cfg.Server)
	require.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	require.Equal(t, time.Minute, cfg.PollTimeout)
	require.Equal(t, "debug", cfg.LogLevel)

	t.Setenv("FORGE_SERVER", "https://override.example")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://override.example", cfg.Server)
}

func TestLoad_InvalidFile(t *testing.T) {
	t.Setenv("FORGE_SERVER", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server: ftp://nope\n"), 0o644))
	_, err = Load(path)
	require.ErrorContains(t, err, "scheme")
}

func TestSave_RoundTrip(t *testing.T) {
	t.Setenv("FORGE_SERVER", "")
	t.Setenv("FORGE_LOG_LEVEL", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	want := &Config{
		Server:         "http://localhost:1234",
		PollInterval:   3 * time.Second,
		PollTimeout:    10 * time.Minute,
		RequestTimeout: 5 * time.Second,
		StateDir:       dir,
		LogFile:        filepath.Join(dir, "x.log"),
		LogLevel:       "warn",
	}
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
