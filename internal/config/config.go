// Package config loads the engine's own tunables from the process
// environment: log level, database DSN, worker pool size, channel
// queue capacities, and the engine's process-map capacity, using the
// same getEnv-with-fallback idiom as an HTTP server's own settings
// loader, applied here to this engine's knobs instead.
//
// This is ambient infrastructure only. The workflow JSON a Process
// executes is supplied by the embedding caller; nothing here
// loads or interprets workflow definitions.
package config

import (
	"os"
	"strconv"
)

// Config tunes one Engine instance.
type Config struct {
	// LogLevel is parsed by internal/obslog (debug|info|warn|error).
	LogLevel string

	// DatabaseDSN configures the Postgres-backed Store, when set. Empty
	// means no persistence collaborator is wired (events/logs are only
	// ever observed live on the Channel).
	DatabaseDSN string

	WorkerPoolSize  int
	EventsCapacity  int
	LogsCapacity    int
	ProcessCapacity int
}

// Load reads engine tunables from the environment, falling back to the
// defaults for anything unset or unparsable.
func Load() Config {
	return Config{
		LogLevel:        getEnv("WFENGINE_LOG_LEVEL", "info"),
		DatabaseDSN:     getEnv("WFENGINE_DATABASE_DSN", ""),
		WorkerPoolSize:  getEnvInt("WFENGINE_WORKER_POOL_SIZE", 16),
		EventsCapacity:  getEnvInt("WFENGINE_EVENTS_CAPACITY", 2048),
		LogsCapacity:    getEnvInt("WFENGINE_LOGS_CAPACITY", 4096),
		ProcessCapacity: getEnvInt("WFENGINE_PROCESS_CAPACITY", 2048),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
