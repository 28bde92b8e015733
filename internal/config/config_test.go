package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "log:\n  level: debug\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/tmp/traderd.sock", cfg.AdminIPC.SocketPath)
	assert.Equal(t, "127.0.0.1:9109", cfg.Metrics.Addr)
	assert.Equal(t, 2000, cfg.State.StaleAfterMs)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeTempConfig(t, "log:\n  level: info\n")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("ADMIN_SOCKET", "/tmp/custom.sock")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/custom.sock", cfg.AdminIPC.SocketPath)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
