package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearExecutorEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"EXECUTION_TIMEOUT", "MAX_MEMORY", "MAX_CPU", "DOCKER_IMAGE", "HOST", "PORT"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearExecutorEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "512m", cfg.MaxMemory)
	assert.Equal(t, 1.0, cfg.MaxCPU)
	assert.Equal(t, "python-sandbox:latest", cfg.SandboxImageTag)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ".csv", cfg.HarvestExtension)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearExecutorEnv(t)
	t.Setenv("EXECUTION_TIMEOUT", "60")
	t.Setenv("MAX_MEMORY", "1g")
	t.Setenv("MAX_CPU", "2.5")
	t.Setenv("DOCKER_IMAGE", "custom:tag")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(2.5*1e9), cfg.NanoCPUs())
	assert.Equal(t, "1g", cfg.MaxMemory)
	assert.Equal(t, "custom:tag", cfg.SandboxImageTag)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoad_RejectsInvalidExecutionTimeout(t *testing.T) {
	clearExecutorEnv(t)
	t.Setenv("EXECUTION_TIMEOUT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsZeroOrNegativeTimeout(t *testing.T) {
	clearExecutorEnv(t)
	t.Setenv("EXECUTION_TIMEOUT", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidMaxCPU(t *testing.T) {
	clearExecutorEnv(t)
	t.Setenv("MAX_CPU", "lots")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidMaxMemory(t *testing.T) {
	clearExecutorEnv(t)
	t.Setenv("MAX_MEMORY", "not-a-size")

	_, err := Load()
	assert.Error(t, err)
}

func TestNanoCPUs(t *testing.T) {
	cfg := ExecutorConfig{MaxCPU: 2}
	assert.Equal(t, int64(2_000_000_000), cfg.NanoCPUs())
}
