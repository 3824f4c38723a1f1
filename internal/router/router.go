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

// Package router implements the mesh's core routing engine: fingerprint
// dedupe, local-vs-remote dispatch, a bounded per-user hold queue for
// not-yet-known destinations, heartbeat fan-out, and peer reaping. It
// owns no network code itself — sends go through injected SendFn values
// supplied at construction, so the router never imports the transport
// that calls it.
package router

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meshoverlay/node/internal/dedupe"
	"github.com/meshoverlay/node/internal/directory"
	"github.com/meshoverlay/node/internal/envelope"
	"github.com/meshoverlay/node/internal/metrics"
)

// QPerUser is the default bound on a single user's hold queue.
const QPerUser = 100

// SendFn delivers an envelope to a peer or local user. It must not be
// called while the caller holds the directory lock, and it must not
// block indefinitely — transient failures are swallowed by the router
// and left for the reaper to notice via inactivity.
type SendFn func(id string, env *envelope.Envelope) error

// Router is configured once at construction with the node's identity,
// send functions, and a directory to consult. It owns the dedupe cache
// and the hold queue.
type Router struct {
	serverID     string
	signingKey   *rsa.PrivateKey
	sendToPeer   SendFn
	sendToLocal  SendFn
	dir          *directory.Directory
	dedupe       *dedupe.Cache
	qPerUser     int
	holdMu       sync.Mutex
	holdQueues   map[string][]*envelope.Envelope
}

// Config collects Router construction parameters.
type Config struct {
	ServerID        string
	SigningKey      *rsa.PrivateKey // optional; if nil, routed envelopes are unsigned
	SendToPeer      SendFn
	SendToLocal     SendFn
	Directory       *directory.Directory
	DedupeCapacity  int
	QPerUser        int
}

// New constructs a Router from cfg.
func New(cfg Config) *Router {
	qPerUser := cfg.QPerUser
	if qPerUser <= 0 {
		qPerUser = QPerUser
	}
	return &Router{
		serverID:    cfg.ServerID,
		signingKey:  cfg.SigningKey,
		sendToPeer:  cfg.SendToPeer,
		sendToLocal: cfg.SendToLocal,
		dir:         cfg.Directory,
		dedupe:      dedupe.New(cfg.DedupeCapacity),
		qPerUser:    qPerUser,
		holdQueues:  make(map[string][]*envelope.Envelope),
	}
}

// AlreadySeen computes env's fingerprint; if present in the dedupe cache
// it returns true, otherwise it remembers the fingerprint and returns
// false. A fingerprint computation failure is treated conservatively as
// "new" (not a duplicate), since malformed payloads are caught earlier
// by structure checks.
func (r *Router) AlreadySeen(env *envelope.Envelope) bool {
	fp, err := envelope.Fingerprint(env)
	if err != nil {
		return false
	}
	seen := r.dedupe.AlreadySeen(fp)
	if seen {
		metrics.DedupeHits.Inc()
	}
	metrics.DedupeSize.Set(float64(r.dedupe.Len()))
	return seen
}

// RecordPresence installs uid's current location and drains its hold
// queue, re-submitting each held frame via RouteToUser with queuing
// disabled: frames that still cannot be routed are dropped rather than
// re-queued, to avoid an unbounded replay loop.
func (r *Router) RecordPresence(uid, location string) {
	r.dir.SetUserLocation(uid, location)

	r.holdMu.Lock()
	held := r.holdQueues[uid]
	delete(r.holdQueues, uid)
	var total int
	for _, pending := range r.holdQueues {
		total += len(pending)
	}
	metrics.HoldQueueDepth.Set(float64(total))
	r.holdMu.Unlock()

	for _, frame := range held {
		r.RouteToUser(uid, frame, false)
	}
}

// RouteToUser delivers frame to uid, either locally, via a peer, or by
// holding it for later delivery. It returns true iff the frame was sent
// (not merely queued).
func (r *Router) RouteToUser(uid string, frame *envelope.Envelope, allowQueue bool) bool {
	if uid == "" {
		return false
	}

	location, ok := r.dir.UserLocation(uid)
	if ok && location == directory.LocationLocal {
		env := &envelope.Envelope{
			Type:    envelope.TypeUserDeliver,
			From:    r.serverID,
			To:      uid,
			TS:      time.Now().UnixMilli(),
			Payload: frame.Payload,
		}
		r.signIfConfigured(env)
		metrics.FramesRouted.WithLabelValues("local").Inc()
		return r.sendToLocal(uid, env) == nil
	}

	if ok && location != "" && location != directory.LocationLocal && r.dir.HasPeer(location) {
		payload := clonePayload(frame.Payload)
		payload["user_id"] = uid
		env := &envelope.Envelope{
			Type:    envelope.TypePeerDeliver,
			From:    r.serverID,
			To:      location,
			TS:      time.Now().UnixMilli(),
			Payload: payload,
		}
		r.signIfConfigured(env)
		metrics.FramesRouted.WithLabelValues("peer").Inc()
		return r.sendToPeer(location, env) == nil
	}

	if allowQueue {
		r.hold(uid, frame)
		metrics.FramesRouted.WithLabelValues("held").Inc()
	} else {
		metrics.FramesRouted.WithLabelValues("dropped").Inc()
	}
	return false
}

func (r *Router) hold(uid string, frame *envelope.Envelope) {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()

	q := r.holdQueues[uid]
	q = append(q, frame)
	if len(q) > r.qPerUser {
		q = q[len(q)-r.qPerUser:] // drop oldest
		metrics.HoldQueueDrops.Inc()
	}
	r.holdQueues[uid] = q

	var total int
	for _, pending := range r.holdQueues {
		total += len(pending)
	}
	metrics.HoldQueueDepth.Set(float64(total))
}

// HoldQueueLen reports the current queue depth for uid, for tests and
// introspection.
func (r *Router) HoldQueueLen(uid string) int {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()
	return len(r.holdQueues[uid])
}

// HoldQueueTotal reports the combined depth of every user's hold queue,
// for health-check pressure signal.
func (r *Router) HoldQueueTotal() int {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()
	var total int
	for _, pending := range r.holdQueues {
		total += len(pending)
	}
	return total
}

// DedupeLen reports the current number of fingerprints held in the
// dedupe cache, for health-check pressure signal.
func (r *Router) DedupeLen() int {
	return r.dedupe.Len()
}

// DedupeCapacity reports the dedupe cache's configured capacity.
func (r *Router) DedupeCapacity() int {
	return r.dedupe.Capacity()
}

// BroadcastHeartbeat sends one HEARTBEAT envelope to every known peer
// concurrently via an errgroup. Individual send failures are swallowed
// (never returned to the group), since the reaper will evict an
// unresponsive peer on its next pass regardless.
func (r *Router) BroadcastHeartbeat(ctx context.Context) {
	env := &envelope.Envelope{
		Type:    envelope.TypeHeartbeat,
		From:    r.serverID,
		To:      "*",
		TS:      time.Now().UnixMilli(),
		Payload: map[string]any{},
	}
	r.signIfConfigured(env)

	g, _ := errgroup.WithContext(ctx)
	for _, sid := range r.dir.PeerIDs() {
		sid := sid
		g.Go(func() error {
			if err := r.sendToPeer(sid, env); err == nil {
				metrics.HeartbeatsSent.Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// NotePeerSeen refreshes a peer's last-seen timestamp.
func (r *Router) NotePeerSeen(sid string) {
	r.dir.NotePeerSeen(sid)
}

// ReapPeers evicts peers whose last-seen timestamp is older than
// deadAfter and returns their ids.
func (r *Router) ReapPeers(deadAfter time.Duration) []string {
	dead := r.dir.ReapPeers(deadAfter)
	metrics.PeersReaped.Add(float64(len(dead)))
	return dead
}

func (r *Router) signIfConfigured(env *envelope.Envelope) {
	if r.signingKey == nil {
		return
	}
	sig, err := envelope.SignPayload(env.Payload, r.signingKey)
	if err != nil {
		return
	}
	env.Sig = sig
	env.Alg = envelope.AlgPS256
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}
