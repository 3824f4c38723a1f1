// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config provides configuration management for the mesh node.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root node configuration.
type Config struct {
	Environment string        `yaml:"environment" json:"environment"`
	Node        NodeConfig    `yaml:"node" json:"node"`
	Mesh        MeshConfig    `yaml:"mesh" json:"mesh"`
	Store       StoreConfig   `yaml:"store" json:"store"`
	Logging     LoggingConfig `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig `yaml:"metrics" json:"metrics"`
	Health      HealthConfig  `yaml:"health" json:"health"`
}

// NodeConfig carries this node's own identity and listen surface.
type NodeConfig struct {
	ServerID   string `yaml:"server_id" json:"server_id"`
	ListenHost string `yaml:"listen_host" json:"listen_host"`
	ListenPort int    `yaml:"listen_port" json:"listen_port"`
	KeyDir     string `yaml:"key_dir" json:"key_dir"`
}

// MeshConfig controls peer bootstrap and hold-queue sizing.
// HeartbeatPeriod and ReapAfter are loaded and defaulted but not read by
// mesh maintenance, which uses its own fixed HeartbeatInterval/DeadAfter.
type MeshConfig struct {
	BootstrapPeers  []string      `yaml:"bootstrap_peers" json:"bootstrap_peers"`
	HeartbeatPeriod time.Duration `yaml:"heartbeat_period" json:"heartbeat_period"`
	ReapAfter       time.Duration `yaml:"reap_after" json:"reap_after"`
	DedupeCapacity  int           `yaml:"dedupe_capacity" json:"dedupe_capacity"`
	HoldQueueDepth  int           `yaml:"hold_queue_depth" json:"hold_queue_depth"`
}

// StoreConfig configures the durable directory collaborator.
type StoreConfig struct {
	Driver   string `yaml:"driver" json:"driver"` // "memory" or "postgres"
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Node.ListenHost == "" {
		cfg.Node.ListenHost = "0.0.0.0"
	}
	if cfg.Node.ListenPort == 0 {
		cfg.Node.ListenPort = 8765
	}
	if cfg.Node.KeyDir == "" {
		cfg.Node.KeyDir = "storage/keys"
	}
	if cfg.Mesh.HeartbeatPeriod == 0 {
		cfg.Mesh.HeartbeatPeriod = 15 * time.Second
	}
	if cfg.Mesh.ReapAfter == 0 {
		cfg.Mesh.ReapAfter = 45 * time.Second
	}
	if cfg.Mesh.DedupeCapacity == 0 {
		cfg.Mesh.DedupeCapacity = 10000
	}
	if cfg.Mesh.HoldQueueDepth == 0 {
		cfg.Mesh.HoldQueueDepth = 100
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.SSLMode == "" {
		cfg.Store.SSLMode = "disable"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":9091"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}

// envOverrideInt parses an integer environment variable, returning ok=false
// when unset or malformed.
func envOverrideInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
