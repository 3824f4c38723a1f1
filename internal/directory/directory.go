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

// Package directory holds the node's in-memory connection tables: peer
// links, peer addresses, peer liveness, local user links, and the
// user-location map. It is the single mutex-protected owner of this
// state; the router and protocol handlers mutate it only through these
// operations, never by reaching into a shared map directly.
package directory

import (
	"crypto/rsa"
	"sync"
	"time"

	"github.com/meshoverlay/node/internal/envelope"
)

// LocationLocal is the sentinel value for a user currently attached to
// this node.
const LocationLocal = "local"

// PeerAddr is a peer's advertised listen address.
type PeerAddr struct {
	Host string
	Port int
}

// PeerInfo is a snapshot entry returned by SnapshotPeers.
type PeerInfo struct {
	ID   string
	Host string
	Port int
}

// Directory is the thread-safe in-memory table set described in the
// data model: peer links, peer addresses, peer-last-seen, local user
// links, user->location, user public keys, and a user-advertise cache.
type Directory struct {
	mu sync.RWMutex

	peers        map[string]any // server_id -> opaque connection handle
	peerAddrs    map[string]PeerAddr
	peerLastSeen map[string]time.Time
	peerPubKeys  map[string]*rsa.PublicKey

	localUsers     map[string]any // user_id -> opaque connection handle
	userLocations  map[string]string
	userPubKeys    map[string]*rsa.PublicKey
	userAdvertises map[string]*envelope.Envelope
	advertiseOrder []string // insertion order of userAdvertises, for deterministic replay
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		peers:          make(map[string]any),
		peerAddrs:      make(map[string]PeerAddr),
		peerLastSeen:   make(map[string]time.Time),
		peerPubKeys:    make(map[string]*rsa.PublicKey),
		localUsers:     make(map[string]any),
		userLocations:  make(map[string]string),
		userPubKeys:    make(map[string]*rsa.PublicKey),
		userAdvertises: make(map[string]*envelope.Envelope),
	}
}

// AttachPeer registers a peer link and its advertised address, and
// records it as seen now.
func (d *Directory) AttachPeer(sid string, link any, addr PeerAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[sid] = link
	d.peerAddrs[sid] = addr
	d.peerLastSeen[sid] = time.Now()
}

// DetachPeer removes a peer's link, address, and last-seen entries
// atomically.
func (d *Directory) DetachPeer(sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, sid)
	delete(d.peerAddrs, sid)
	delete(d.peerLastSeen, sid)
}

// PeerLink returns the connection handle for sid, if present.
func (d *Directory) PeerLink(sid string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	link, ok := d.peers[sid]
	return link, ok
}

// HasPeer reports whether sid is currently a registered peer.
func (d *Directory) HasPeer(sid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.peers[sid]
	return ok
}

// PeerIDs returns every currently registered peer id.
func (d *Directory) PeerIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.peers))
	for id := range d.peers {
		ids = append(ids, id)
	}
	return ids
}

// SetPeerPublicKey records a peer's public key, learned from its
// SERVER_WELCOME or SERVER_HELLO_JOIN frame.
func (d *Directory) SetPeerPublicKey(sid string, pub *rsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peerPubKeys[sid] = pub
}

// PeerPublicKey returns the known public key for a peer.
func (d *Directory) PeerPublicKey(sid string) (*rsa.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.peerPubKeys[sid]
	return pub, ok
}

// NotePeerSeen refreshes a peer's last-seen timestamp to now.
func (d *Directory) NotePeerSeen(sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[sid]; ok {
		d.peerLastSeen[sid] = time.Now()
	}
}

// ReapPeers returns the ids of every peer whose last-seen timestamp is
// older than deadAfter, removing them from peers and peerLastSeen
// atomically.
func (d *Directory) ReapPeers(deadAfter time.Duration) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var dead []string
	for sid, lastSeen := range d.peerLastSeen {
		if now.Sub(lastSeen) > deadAfter {
			dead = append(dead, sid)
		}
	}
	for _, sid := range dead {
		delete(d.peers, sid)
		delete(d.peerAddrs, sid)
		delete(d.peerLastSeen, sid)
	}
	return dead
}

// SnapshotPeers returns every known peer's id and address, for the
// SERVER_WELCOME reply.
func (d *Directory) SnapshotPeers() []PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]PeerInfo, 0, len(d.peerAddrs))
	for sid, addr := range d.peerAddrs {
		out = append(out, PeerInfo{ID: sid, Host: addr.Host, Port: addr.Port})
	}
	return out
}

// AttachUser registers a locally-attached user's connection handle and
// marks their location as local, preserving the invariant
// local_users[uid] exists iff user_locations[uid] == "local".
func (d *Directory) AttachUser(uid string, link any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localUsers[uid] = link
	d.userLocations[uid] = LocationLocal
}

// DetachUser removes a locally-attached user. It only clears the
// location entry if it still points to "local" — a racing remote
// advertise should not be erased by a stale local detach.
func (d *Directory) DetachUser(uid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.localUsers, uid)
	if d.userLocations[uid] == LocationLocal {
		delete(d.userLocations, uid)
	}
}

// LocalUserLink returns the connection handle for a locally-attached user.
func (d *Directory) LocalUserLink(uid string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	link, ok := d.localUsers[uid]
	return link, ok
}

// LocalUserIDs returns every currently locally-attached user id.
func (d *Directory) LocalUserIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.localUsers))
	for id := range d.localUsers {
		ids = append(ids, id)
	}
	return ids
}

// SetUserLocation sets a user's current location: "local" or a peer's
// server_id.
func (d *Directory) SetUserLocation(uid, location string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userLocations[uid] = location
}

// UserLocation returns a user's current location, if known.
func (d *Directory) UserLocation(uid string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	loc, ok := d.userLocations[uid]
	return loc, ok
}

// RemoveUserLocationIfMatches deletes the location entry for uid only if
// its current value equals expected, matching USER_REMOVE's fencing rule.
func (d *Directory) RemoveUserLocationIfMatches(uid, expected string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userLocations[uid] != expected {
		return false
	}
	delete(d.userLocations, uid)
	return true
}

// SetUserPublicKey records a user's public key, learned from a verified
// USER_ADVERTISE.
func (d *Directory) SetUserPublicKey(uid string, pub *rsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userPubKeys[uid] = pub
}

// UserPublicKey returns the known public key for a user.
func (d *Directory) UserPublicKey(uid string) (*rsa.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.userPubKeys[uid]
	return pub, ok
}

// CacheAdvertise stores the latest valid USER_ADVERTISE envelope for a
// user, used to seed newly-connected peers and users with existing
// directory state.
func (d *Directory) CacheAdvertise(uid string, env *envelope.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.userAdvertises[uid]; !exists {
		d.advertiseOrder = append(d.advertiseOrder, uid)
	}
	d.userAdvertises[uid] = env
}

// KnownUserAdvertises returns every cached USER_ADVERTISE envelope in
// insertion order, for state-transfer to new peers or users.
func (d *Directory) KnownUserAdvertises() []*envelope.Envelope {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*envelope.Envelope, 0, len(d.advertiseOrder))
	for _, uid := range d.advertiseOrder {
		if env, ok := d.userAdvertises[uid]; ok {
			out = append(out, env)
		}
	}
	return out
}
