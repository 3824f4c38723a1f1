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

// Package metrics exposes Prometheus collectors for the mesh node.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "mesh"

// Registry is the collector registry used by every metric in this package,
// kept separate from prometheus.DefaultRegisterer so a node can run more
// than one instance in a single process (useful in tests).
var Registry = prometheus.NewRegistry()
