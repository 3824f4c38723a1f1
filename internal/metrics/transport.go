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
	// ConnectionsActive tracks currently open connections by link kind.
	ConnectionsActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_active",
			Help:      "Number of currently open connections by kind",
		},
		[]string{"kind"}, // peer, user
	)

	// ConnectionsClosed tracks closed connections by reason.
	ConnectionsClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_closed_total",
			Help:      "Total number of connections closed, by reason",
		},
		[]string{"kind", "reason"}, // tie-break, replaced, timeout, normal
	)

	// InvalidSignatures tracks envelopes rejected for a failed signature check:
	// the transport signature, a content_sig, or a USER_ADVERTISE signature.
	InvalidSignatures = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "invalid_signatures_total",
			Help:      "Total number of envelopes rejected for signature verification failure",
		},
	)

	// HeartbeatsSent tracks outbound heartbeats broadcast to peers.
	HeartbeatsSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mesh",
			Name:      "heartbeats_sent_total",
			Help:      "Total number of heartbeat frames broadcast to peers",
		},
	)

	// PeersReaped tracks peers removed for exceeding the dead-after window.
	PeersReaped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mesh",
			Name:      "peers_reaped_total",
			Help:      "Total number of peer links reaped for being unresponsive",
		},
	)
)
