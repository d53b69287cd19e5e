// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Queue  QueueConfig  `yaml:"queue"`
	Engine EngineConfig `yaml:"engine"`
	Otel   OtelConfig   `yaml:"otel"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`                           // e.g. 0.0.0.0
	Port int    `yaml:"port" validate:"min=1,max=65535"` // e.g. 8080
}

type DataConfig struct {
	Dir       string `yaml:"dir" validate:"required"`        // badger database directory
	UploadDir string `yaml:"upload_dir" validate:"required"` // uploaded file storage
}

type QueueConfig struct {
	MaxConcurrentPerWorkflow int `yaml:"max_concurrent_per_workflow" validate:"min=1"`
	MaxQueueSize             int `yaml:"max_queue_size" validate:"min=1"`
}

type EngineConfig struct {
	// SeedText feeds workflow nodes that have no upstream input.
	SeedText string `yaml:"seed_text"`
}

type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // OTLP gRPC, e.g. localhost:4317
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Data: DataConfig{
			Dir:       "~/.loom/data",
			UploadDir: "~/.loom/uploads",
		},
		Queue: QueueConfig{
			MaxConcurrentPerWorkflow: 2,
			MaxQueueSize:             20,
		},
		Engine: EngineConfig{SeedText: "Initial text from document"},
		Otel:   OtelConfig{Enabled: false, Endpoint: "localhost:4317"},
		Log:    LogConfig{Level: "info", Dir: "~/.loom/logs", JSON: false},
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".loom", "loom.yaml"), nil
}

// Load reads the configuration at path, creating a default file on
// first run. An empty path uses DefaultPath.
func Load(path string) (Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Config{}, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
