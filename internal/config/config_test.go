package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"WFENGINE_LOG_LEVEL", "WFENGINE_DATABASE_DSN", "WFENGINE_WORKER_POOL_SIZE",
		"WFENGINE_EVENTS_CAPACITY", "WFENGINE_LOGS_CAPACITY", "WFENGINE_PROCESS_CAPACITY",
	}
	for _, k := range keys {
		old, existed := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if existed {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "", cfg.DatabaseDSN)
	assert.Equal(t, 16, cfg.WorkerPoolSize)
	assert.Equal(t, 2048, cfg.EventsCapacity)
	assert.Equal(t, 4096, cfg.LogsCapacity)
	assert.Equal(t, 2048, cfg.ProcessCapacity)
}

func TestLoad_ReadsEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("WFENGINE_LOG_LEVEL", "debug")
	os.Setenv("WFENGINE_DATABASE_DSN", "postgres://x")
	os.Setenv("WFENGINE_WORKER_POOL_SIZE", "32")

	cfg := Load()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://x", cfg.DatabaseDSN)
	assert.Equal(t, 32, cfg.WorkerPoolSize)
}

func TestLoad_UnparsableOrNonPositiveIntFallsBack(t *testing.T) {
	clearEnv(t)
	os.Setenv("WFENGINE_WORKER_POOL_SIZE", "not-a-number")
	os.Setenv("WFENGINE_EVENTS_CAPACITY", "-5")

	cfg := Load()
	assert.Equal(t, 16, cfg.WorkerPoolSize)
	assert.Equal(t, 2048, cfg.EventsCapacity)
}
