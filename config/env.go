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
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables in config.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Node.ServerID = SubstituteEnvVars(cfg.Node.ServerID)
	cfg.Node.ListenHost = SubstituteEnvVars(cfg.Node.ListenHost)
	cfg.Node.KeyDir = SubstituteEnvVars(cfg.Node.KeyDir)

	for i, peer := range cfg.Mesh.BootstrapPeers {
		cfg.Mesh.BootstrapPeers[i] = SubstituteEnvVars(peer)
	}

	cfg.Store.Host = SubstituteEnvVars(cfg.Store.Host)
	cfg.Store.User = SubstituteEnvVars(cfg.Store.User)
	cfg.Store.Password = SubstituteEnvVars(cfg.Store.Password)
	cfg.Store.Database = SubstituteEnvVars(cfg.Store.Database)

	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Metrics.Addr = SubstituteEnvVars(cfg.Metrics.Addr)
	cfg.Health.Addr = SubstituteEnvVars(cfg.Health.Addr)
}

// GetEnvironment returns the current environment from MESH_ENV or defaults to development.
func GetEnvironment() string {
	env := os.Getenv("MESH_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment.
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
