// Package config parses the process environment into an ExecutorConfig.
// This is startup glue, not part of the execution core: the core receives
// an already-validated ExecutorConfig and never reads the environment
// itself.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
)

// ExecutorConfig is process-wide and immutable after startup.
type ExecutorConfig struct {
	ExecutionTimeout time.Duration
	MaxMemory        string
	MaxCPU           float64
	SandboxImageTag  string
	HarvestExtension string
	Host             string
	Port             string
}

// Load reads the environment variables documented in spec.md §6, applying
// the listed defaults, and validates the memory/cpu/timeout values.
func Load() (ExecutorConfig, error) {
	cfg := ExecutorConfig{
		MaxMemory:        getEnv("MAX_MEMORY", "512m"),
		SandboxImageTag:  getEnv("DOCKER_IMAGE", "python-sandbox:latest"),
		HarvestExtension: ".csv",
		Host:             getEnv("HOST", "0.0.0.0"),
		Port:             getEnv("PORT", "8080"),
	}

	timeoutSecs, err := strconv.Atoi(getEnv("EXECUTION_TIMEOUT", "30"))
	if err != nil || timeoutSecs <= 0 {
		return ExecutorConfig{}, fmt.Errorf("config: invalid EXECUTION_TIMEOUT: %q", os.Getenv("EXECUTION_TIMEOUT"))
	}
	cfg.ExecutionTimeout = time.Duration(timeoutSecs) * time.Second

	maxCPU, err := strconv.ParseFloat(getEnv("MAX_CPU", "1.0"), 64)
	if err != nil || maxCPU <= 0 {
		return ExecutorConfig{}, fmt.Errorf("config: invalid MAX_CPU: %q", os.Getenv("MAX_CPU"))
	}
	cfg.MaxCPU = maxCPU

	if _, err := units.RAMInBytes(cfg.MaxMemory); err != nil {
		return ExecutorConfig{}, fmt.Errorf("config: invalid MAX_MEMORY %q: %w", cfg.MaxMemory, err)
	}

	return cfg, nil
}

// NanoCPUs converts MaxCPU into the nano-cpu units the engine expects.
func (c ExecutorConfig) NanoCPUs() int64 {
	return int64(c.MaxCPU * 1e9)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
