package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("MESH_TEST_HOST", "peer.internal")

	assert.Equal(t, "peer.internal", SubstituteEnvVars("${MESH_TEST_HOST}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${MESH_TEST_MISSING:fallback}"))
	assert.Equal(t, "", SubstituteEnvVars("${MESH_TEST_MISSING}"))
	assert.Equal(t, "wss://peer.internal:9000", SubstituteEnvVars("wss://${MESH_TEST_HOST}:9000"))
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	t.Setenv("MESH_TEST_SERVER_ID", "node-z")

	cfg := &Config{}
	cfg.Node.ServerID = "${MESH_TEST_SERVER_ID}"
	SubstituteEnvVarsInConfig(cfg)

	assert.Equal(t, "node-z", cfg.Node.ServerID)
}

func TestGetEnvironment(t *testing.T) {
	os.Unsetenv("MESH_ENV")
	os.Unsetenv("ENVIRONMENT")
	assert.Equal(t, "development", GetEnvironment())
	assert.True(t, IsDevelopment())
	assert.False(t, IsProduction())

	t.Setenv("MESH_ENV", "Production")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
}
