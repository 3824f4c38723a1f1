package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(`
node:
  server_id: from-file
  listen_port: 7000
`), 0o644))

	t.Setenv("SERVER_ID", "from-env")
	t.Setenv("BOOTSTRAP_PEERS", "wss://a:9000, wss://b:9000")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, EnvFile: ""})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Node.ServerID)
	assert.Equal(t, 7000, cfg.Node.ListenPort)
	assert.Equal(t, []string{"wss://a:9000", "wss://b:9000"}, cfg.Mesh.BootstrapPeers)
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "production", EnvFile: ""})
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 8765, cfg.Node.ListenPort)
}

func TestMustLoadPanicsNever(t *testing.T) {
	dir := t.TempDir()
	assert.NotPanics(t, func() {
		_ = MustLoad(LoaderOptions{ConfigDir: dir, EnvFile: ""})
	})
}
