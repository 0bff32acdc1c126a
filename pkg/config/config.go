// Package config provides configuration handling for triggerflow.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Queue configuration
	Queue QueueConfig `json:"queue"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "memory", "postgres"

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// QueueConfig contains job queue settings
type QueueConfig struct {
	// Type of queue to use
	Type string `json:"type"` // "memory", "redis"

	// Workers is the concurrency bound of the worker pool
	Workers int `json:"workers"`

	// PollIntervalMs is how often the redis scheduler promotes due
	// delayed jobs to the ready list
	PollIntervalMs int `json:"poll_interval_ms"`

	// Redis configuration
	Redis RedisConfig `json:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	// Addr is the host:port of the Redis server
	Addr string `json:"addr"`

	// Password for the Redis server
	Password string `json:"password"`

	// DB is the Redis database number
	DB int `json:"db"`

	// KeyPrefix namespaces the queue keys
	KeyPrefix string `json:"key_prefix"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level"` // "debug", "info", "warn", "error"
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "triggerflow",
				User:     "triggerflow",
				SSLMode:  "disable",
			},
		},
		Queue: QueueConfig{
			Type:           "memory",
			Workers:        20,
			PollIntervalMs: 250,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "triggerflow",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
