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

package health

import (
	"fmt"
	"runtime"
	"syscall"
)

const (
	memoryThresholdHealthy  = 70.0
	memoryThresholdDegraded = 85.0
	diskThresholdHealthy    = 70.0
	diskThresholdDegraded   = 85.0
)

// ResourceStatus represents system resource health.
type ResourceStatus struct {
	Status        Status  `json:"status"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskUsedGB    uint64  `json:"disk_used_gb"`
	DiskTotalGB   uint64  `json:"disk_total_gb"`
	DiskPercent   float64 `json:"disk_percent"`
	GoRoutines    int     `json:"goroutines"`
	Error         string  `json:"error,omitempty"`
}

// CheckResources reports current process memory, goroutine, and disk usage.
func CheckResources() *ResourceStatus {
	r := &ResourceStatus{Status: StatusHealthy}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryUsedMB = m.Alloc / 1024 / 1024
	r.MemoryTotalMB = m.Sys / 1024 / 1024
	if r.MemoryTotalMB > 0 {
		r.MemoryPercent = float64(r.MemoryUsedMB) / float64(r.MemoryTotalMB) * 100
	}
	r.GoRoutines = runtime.NumGoroutine()

	var stat syscall.Statfs_t
	if err := syscall.Statfs(".", &stat); err == nil {
		totalBytes := stat.Blocks * uint64(stat.Bsize)
		freeBytes := stat.Bfree * uint64(stat.Bsize)
		usedBytes := totalBytes - freeBytes

		r.DiskTotalGB = totalBytes / 1024 / 1024 / 1024
		r.DiskUsedGB = usedBytes / 1024 / 1024 / 1024
		if r.DiskTotalGB > 0 {
			r.DiskPercent = float64(r.DiskUsedGB) / float64(r.DiskTotalGB) * 100
		}
	} else {
		r.Error = fmt.Sprintf("failed to get disk stats: %v", err)
	}

	if r.MemoryPercent >= memoryThresholdDegraded || r.DiskPercent >= diskThresholdDegraded {
		r.Status = StatusUnhealthy
	} else if r.MemoryPercent >= memoryThresholdHealthy || r.DiskPercent >= diskThresholdHealthy {
		r.Status = StatusDegraded
	}

	return r
}
