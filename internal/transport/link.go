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

// Package transport owns the WebSocket listener and the per-connection
// state machine: NEW -> HELLO_RECEIVED -> ACTIVE -> CLOSED. It classifies
// the first frame, structure-checks and verifies every subsequent one,
// and dispatches by type into a handler table supplied at construction.
package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshoverlay/node/internal/envelope"
)

// Kind distinguishes a peer link from a locally-attached user link.
type Kind int

const (
	KindUnknown Kind = iota
	KindPeer
	KindUser
)

// State is a connection's position in the per-connection state machine.
type State int

const (
	StateNew State = iota
	StateHelloReceived
	StateActive
	StateClosed
)

// DefaultIdleTimeout is WS_CONNECTION_TIMEOUT, reset on every inbound frame.
const DefaultIdleTimeout = 300 * time.Second

// Link wraps one WebSocket connection plus its classification and
// protocol state. Writes are serialized by writeMu since a single
// gorilla/websocket connection permits only one concurrent writer.
type Link struct {
	conn *websocket.Conn

	mu    sync.Mutex
	kind  Kind
	state State
	id    string // server_id once classified as peer, user_id once classified as user

	writeMu sync.Mutex
}

func newLink(conn *websocket.Conn) *Link {
	return &Link{conn: conn, state: StateNew}
}

// NewClientLink wraps a connection this node dialed outbound. Its kind
// is known immediately (we initiated the connection as a peer); its id
// is filled in once the SERVER_WELCOME handshake response arrives.
func NewClientLink(conn *websocket.Conn, kind Kind) *Link {
	return &Link{conn: conn, kind: kind, state: StateHelloReceived}
}

// Classify exposes classify to callers outside the package (handlers
// learning a link's id from a handshake response).
func (l *Link) Classify(kind Kind, id string) {
	l.classify(kind, id)
}

// Kind returns the link's current classification.
func (l *Link) Kind() Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kind
}

// ID returns the peer's server_id or the user's user_id, once classified.
func (l *Link) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// State returns the link's current protocol state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) classify(kind Kind, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kind = kind
	l.id = id
	l.state = StateHelloReceived
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

// Send writes env to the connection under the write lock.
func (l *Link) Send(env *envelope.Envelope) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return l.conn.WriteJSON(env)
}

// Close sends a close frame with the given code and reason, then closes
// the underlying connection.
func (l *Link) Close(code int, reason string) error {
	l.setState(StateClosed)
	l.writeMu.Lock()
	_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	l.writeMu.Unlock()
	return l.conn.Close()
}
