// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config).
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// EnvFile is a .env file to load before resolving overrides, empty skips it.
	EnvFile string
	// SkipEnvSubstitution disables ${VAR} substitution in loaded files.
	SkipEnvSubstitution bool
}

// DefaultLoaderOptions returns default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir: "config",
		EnvFile:   ".env",
	}
}

// Load loads configuration with automatic environment detection, a config
// file, and environment-variable overrides, in that order of increasing
// priority.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.EnvFile != "" {
		// Missing .env is not an error; env vars may be set some other way.
		_ = godotenv.Load(options.EnvFile)
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			cfg = &Config{Environment: env}
			setDefaults(cfg)
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with the node's bootstrap
// environment surface, giving it the highest precedence.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ID"); v != "" {
		cfg.Node.ServerID = v
	}
	if v := os.Getenv("LISTEN_HOST"); v != "" {
		cfg.Node.ListenHost = v
	}
	if p, ok := envOverrideInt("LISTEN_PORT"); ok {
		cfg.Node.ListenPort = p
	}
	if v := os.Getenv("BOOTSTRAP_PEERS"); v != "" {
		cfg.Mesh.BootstrapPeers = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("MESH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MESH_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
