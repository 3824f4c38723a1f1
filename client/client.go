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

// Package client is a reference implementation of a mesh user: it dials
// one node's WebSocket endpoint, performs USER_HELLO, and offers builders
// for the signed frames a user sends (MSG_DIRECT, MSG_PUBLIC_CHANNEL,
// CMD_LIST) alongside a background reader that fans deliveries out onto
// channels the caller selects on.
package client

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshoverlay/node/internal/codec"
	"github.com/meshoverlay/node/internal/cryptoutil"
	"github.com/meshoverlay/node/internal/envelope"
)

// Client is a single user's connection to one mesh node.
type Client struct {
	url        string
	userID     string
	signingKey *rsa.PrivateKey

	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	// Deliveries receives USER_DELIVER and MSG_PUBLIC_CHANNEL frames.
	Deliveries chan *envelope.Envelope
	// Errors receives ERROR frames from the node.
	Errors chan *envelope.Envelope
	// UserLists receives USER_LIST replies to CMD_LIST.
	UserLists chan *envelope.Envelope

	connMu    sync.RWMutex
	connected bool
}

// New creates a Client bound to one node's WebSocket URL (e.g.
// "ws://host:port/mesh") and a user identity. signingKey may be nil for a
// user that never sends content_sig-bearing frames (read-only clients).
func New(url, userID string, signingKey *rsa.PrivateKey) *Client {
	return &Client{
		url:          url,
		userID:       userID,
		signingKey:   signingKey,
		dialTimeout:  10 * time.Second,
		readTimeout:  300 * time.Second,
		writeTimeout: 10 * time.Second,
		Deliveries:   make(chan *envelope.Envelope, 64),
		Errors:       make(chan *envelope.Envelope, 16),
		UserLists:    make(chan *envelope.Envelope, 4),
	}
}

// Connect dials the node, sends USER_HELLO, and starts the background
// reader. It returns once the connection is established; the node's ACK to
// USER_HELLO is read by readLoop and discarded, since readLoop forwards only
// USER_DELIVER, MSG_PUBLIC_CHANNEL, ERROR and USER_LIST frames.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := &websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("client: dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("client: dial failed: %w", err)
	}
	c.conn = conn
	c.setConnected(true)

	hello := &envelope.Envelope{
		Type:    envelope.TypeUserHello,
		From:    c.userID,
		TS:      time.Now().UnixMilli(),
		Payload: map[string]any{"client": "meshoverlay-reference"},
	}
	// c.mu is already held here, so write directly rather than via writeEnvelope.
	err = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err == nil {
		err = conn.WriteJSON(hello)
	}
	if err != nil {
		_ = conn.Close()
		c.conn = nil
		c.setConnected(false)
		return fmt.Errorf("client: send USER_HELLO: %w", err)
	}

	go c.readLoop()
	return nil
}

// Close sends a normal-closure frame and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil
	c.setConnected(false)
	return err
}

func (c *Client) isConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected = v
}

func (c *Client) writeEnvelope(env *envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("client: not connected")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}

// readLoop continuously reads frames and fans them out by type until the
// connection closes, mirroring the node transport's own read loop.
func (c *Client) readLoop() {
	defer c.setConnected(false)
	defer close(c.Deliveries)
	defer close(c.Errors)
	defer close(c.UserLists)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return
		}

		var env envelope.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case envelope.TypeUserDeliver, envelope.TypeMsgPublicChannel:
			c.deliver(c.Deliveries, &env)
		case envelope.TypeError:
			c.deliver(c.Errors, &env)
		case envelope.TypeUserList:
			c.deliver(c.UserLists, &env)
		}
	}
}

func (c *Client) deliver(ch chan *envelope.Envelope, env *envelope.Envelope) {
	select {
	case ch <- env:
	default:
		// Slow consumer: drop rather than block the reader indefinitely.
	}
}

// SendDirect encrypts plaintext for recipientPub and sends a signed
// MSG_DIRECT to to. The content_sig binds the ciphertext to this sender
// and the addressing, per the end-to-end signature scheme; it requires a
// configured signing key.
func (c *Client) SendDirect(to string, recipientPub *rsa.PublicKey, plaintext []byte) error {
	if c.signingKey == nil {
		return fmt.Errorf("client: no signing key configured")
	}

	ciphertext, err := cryptoutil.OAEPEncrypt(recipientPub, plaintext)
	if err != nil {
		return fmt.Errorf("client: encrypt: %w", err)
	}

	ts := time.Now().UnixMilli()
	contentSig, err := envelope.ContentSign(c.signingKey, ciphertext, c.userID, to, ts)
	if err != nil {
		return fmt.Errorf("client: content sign: %w", err)
	}

	payload := map[string]any{
		"ciphertext":  codec.B64U(ciphertext),
		"from":        c.userID,
		"to":          to,
		"ts":          ts,
		"content_sig": contentSig,
	}
	env := &envelope.Envelope{Type: envelope.TypeMsgDirect, From: c.userID, To: to, TS: ts, Payload: payload}
	if sig, err := envelope.SignPayload(payload, c.signingKey); err == nil {
		env.Sig, env.Alg = sig, envelope.AlgPS256
	}
	return c.writeEnvelope(env)
}

// SendPublicChannel broadcasts ciphertext (already encrypted under an
// out-of-band channel key) to every other connected user, mesh-wide.
func (c *Client) SendPublicChannel(ciphertext []byte) error {
	ts := time.Now().UnixMilli()
	payload := map[string]any{"ciphertext": codec.B64U(ciphertext)}
	env := &envelope.Envelope{Type: envelope.TypeMsgPublicChannel, From: c.userID, To: "*", TS: ts, Payload: payload}
	if c.signingKey != nil {
		if sig, err := envelope.SignPayload(payload, c.signingKey); err == nil {
			env.Sig, env.Alg = sig, envelope.AlgPS256
		}
	}
	return c.writeEnvelope(env)
}

// ListUsers sends CMD_LIST; the USER_LIST reply arrives on UserLists.
func (c *Client) ListUsers() error {
	return c.writeEnvelope(&envelope.Envelope{
		Type: envelope.TypeCmdList, From: c.userID, TS: time.Now().UnixMilli(), Payload: map[string]any{},
	})
}
