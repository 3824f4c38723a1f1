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

// Package health provides cached, timeout-bound health checks for a node's
// collaborators (the durable directory store, peer reachability) and for
// the process itself.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshoverlay/node/internal/logger"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Check represents a single health check function.
type Check func(ctx context.Context) error

// Checker manages multiple health checks.
type Checker struct {
	checks   map[string]Check
	timeout  time.Duration
	mu       sync.RWMutex
	logger   logger.Logger
	cacheTTL time.Duration
	cache    map[string]*cachedResult
}

type cachedResult struct {
	result    *CheckResult
	expiresAt time.Time
}

// NewChecker creates a new health checker.
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Checker{
		checks:   make(map[string]Check),
		timeout:  timeout,
		logger:   logger.GetDefaultLogger(),
		cacheTTL: 10 * time.Second,
		cache:    make(map[string]*cachedResult),
	}
}

// SetLogger sets the logger for the checker.
func (h *Checker) SetLogger(l logger.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = l
}

// SetCacheTTL sets the cache TTL for health check results.
func (h *Checker) SetCacheTTL(ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cacheTTL = ttl
}

// RegisterCheck registers a new health check.
func (h *Checker) RegisterCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks[name] = check
	h.logger.Info("health check registered", logger.String("name", name))
}

// UnregisterCheck removes a health check.
func (h *Checker) UnregisterCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.checks, name)
	delete(h.cache, name)
	h.logger.Info("health check unregistered", logger.String("name", name))
}

// Check performs a single health check.
func (h *Checker) Check(ctx context.Context, name string) (*CheckResult, error) {
	h.mu.RLock()
	check, exists := h.checks[name]
	h.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("health check not found: %s", name)
	}

	if cached := h.getCachedResult(name); cached != nil {
		return cached, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	duration := time.Since(start)

	result := &CheckResult{
		Name:      name,
		Timestamp: time.Now(),
		Duration:  duration,
	}

	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		h.logger.Warn("health check failed",
			logger.String("name", name),
			logger.Error(err),
			logger.Duration("duration", duration),
		)
	} else {
		result.Status = StatusHealthy
		h.logger.Debug("health check passed",
			logger.String("name", name),
			logger.Duration("duration", duration),
		)
	}

	h.cacheResult(name, result)
	return result, nil
}

// CheckAll performs all registered health checks concurrently.
func (h *Checker) CheckAll(ctx context.Context) map[string]*CheckResult {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()

	results := make(map[string]*CheckResult)
	var wg sync.WaitGroup
	var resultsMu sync.Mutex

	for _, name := range names {
		wg.Add(1)
		go func(checkName string) {
			defer wg.Done()

			result, err := h.Check(ctx, checkName)
			if err != nil {
				result = &CheckResult{
					Name:      checkName,
					Status:    StatusUnhealthy,
					Message:   fmt.Sprintf("check failed: %v", err),
					Timestamp: time.Now(),
				}
			}

			resultsMu.Lock()
			results[checkName] = result
			resultsMu.Unlock()
		}(name)
	}

	wg.Wait()
	return results
}

// OverallStatus returns the worst status among all registered checks.
func (h *Checker) OverallStatus(ctx context.Context) Status {
	results := h.CheckAll(ctx)
	if len(results) == 0 {
		return StatusHealthy
	}

	hasUnhealthy := false
	hasDegraded := false

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *Checker) getCachedResult(name string) *CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cached, exists := h.cache[name]
	if !exists || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.result
}

func (h *Checker) cacheResult(name string, result *CheckResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cache[name] = &cachedResult{
		result:    result,
		expiresAt: time.Now().Add(h.cacheTTL),
	}
}

// ClearCache clears all cached results.
func (h *Checker) ClearCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = make(map[string]*cachedResult)
	h.logger.Debug("health check cache cleared")
}

// SystemStatus represents the overall system health.
type SystemStatus struct {
	Status    Status                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks"`
}

// Snapshot returns comprehensive node health information.
func (h *Checker) Snapshot(ctx context.Context) *SystemStatus {
	return &SystemStatus{
		Status:    h.OverallStatus(ctx),
		Timestamp: time.Now(),
		Checks:    h.CheckAll(ctx),
	}
}

// Common health check constructors.

// StoreHealthCheck creates a health check for the durable directory store.
func StoreHealthCheck(ping func(context.Context) error) Check {
	return func(ctx context.Context) error {
		if ping == nil {
			return fmt.Errorf("store ping function not configured")
		}
		return ping(ctx)
	}
}

// PeerHealthCheck creates a health check that reports whether a minimum
// number of mesh peers are currently connected.
func PeerHealthCheck(connectedPeers func() int, minPeers int) Check {
	return func(ctx context.Context) error {
		if connectedPeers == nil {
			return fmt.Errorf("peer counter not configured")
		}
		if n := connectedPeers(); n < minPeers {
			return fmt.Errorf("only %d of %d required peers connected", n, minPeers)
		}
		return nil
	}
}

// ServiceHealthCheck creates a health check for an arbitrary external service.
func ServiceHealthCheck(url string, checker func(context.Context, string) error) Check {
	return func(ctx context.Context) error {
		if checker == nil {
			return fmt.Errorf("service checker not configured")
		}
		return checker(ctx, url)
	}
}

// MeshPressureCheck creates a health check that reports unhealthy status
// (by returning an error; it never reports degraded) from router backpressure: how full the dedupe cache and the
// combined per-user hold queues are. A node approaching C_DEDUPE or
// Q_PER_USER capacity is a sign of an unhealthy mesh (a stuck peer, a
// flood of duplicate frames, or a destination that never comes online)
// well before anything actually fails outright.
func MeshPressureCheck(dedupeLen, dedupeCap func() int, holdQueueTotal, holdQueueCap func() int) Check {
	return func(ctx context.Context) error {
		if dedupeLen == nil || dedupeCap == nil || holdQueueTotal == nil || holdQueueCap == nil {
			return fmt.Errorf("mesh pressure counters not configured")
		}
		if cap := dedupeCap(); cap > 0 {
			if ratio := float64(dedupeLen()) / float64(cap); ratio >= 0.95 {
				return fmt.Errorf("dedupe cache at %.0f%% of capacity", ratio*100)
			}
		}
		if cap := holdQueueCap(); cap > 0 {
			if ratio := float64(holdQueueTotal()) / float64(cap); ratio >= 0.95 {
				return fmt.Errorf("hold queues at %.0f%% of combined capacity", ratio*100)
			}
		}
		return nil
	}
}
