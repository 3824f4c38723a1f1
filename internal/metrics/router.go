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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesRouted tracks every frame the router disposes of, by outcome.
	FramesRouted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "frames_routed_total",
			Help:      "Total number of frames routed, by destination outcome",
		},
		[]string{"outcome"}, // local, peer, held, dropped
	)

	// DedupeHits tracks fingerprint cache hits that suppressed a frame.
	DedupeHits = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dedupe_hits_total",
			Help:      "Total number of frames suppressed as duplicates",
		},
	)

	// DedupeSize tracks the current size of the fingerprint cache.
	DedupeSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dedupe_cache_size",
			Help:      "Current number of fingerprints held in the dedupe cache",
		},
	)

	// HoldQueueDepth tracks the total number of envelopes held for
	// not-yet-local users, summed across all pending users.
	HoldQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "hold_queue_depth",
			Help:      "Total number of envelopes currently held across all users",
		},
	)

	// HoldQueueDrops tracks envelopes discarded when a user's hold queue
	// was already at capacity.
	HoldQueueDrops = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "hold_queue_drops_total",
			Help:      "Total number of held envelopes dropped due to a full queue",
		},
	)
)
