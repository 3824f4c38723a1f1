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

// Package mesh owns bootstrap and ongoing mesh maintenance: dialing
// configured peers, reconnecting on drop, and the periodic heartbeat and
// reap ticks that keep the directory's peer set accurate.
package mesh

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/meshoverlay/node/internal/cryptoutil"
	"github.com/meshoverlay/node/internal/directory"
	"github.com/meshoverlay/node/internal/envelope"
	"github.com/meshoverlay/node/internal/logger"
	"github.com/meshoverlay/node/internal/router"
	"github.com/meshoverlay/node/internal/transport"
)

const (
	// ReconnectInterval is how often the reconnect task retries any
	// bootstrap peer not currently connected.
	ReconnectInterval = 10 * time.Second
	// HeartbeatInterval is how often BroadcastHeartbeat fires.
	HeartbeatInterval = 15 * time.Second
	// DeadAfter is the default peer liveness threshold, reaped after
	// each heartbeat tick.
	DeadAfter = 45 * time.Second
)

// Peer is one configured bootstrap address.
type Peer struct {
	Host string
	Port int
}

func (p Peer) String() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

// Maintainer drives bootstrap connect, reconnection, heartbeat, and
// reaping for one node.
type Maintainer struct {
	ServerID    string
	ListenHost  string
	ListenPort  int
	SigningKey  *rsa.PrivateKey
	PublicKey   *rsa.PublicKey
	Dir         *directory.Directory
	Router      *router.Router
	Transport   *transport.Server
	Log         logger.Logger
	Bootstrap   []Peer
}

// Run drives the reconnect loop and the heartbeat/reap loop until ctx is
// canceled. It does not return an error on an individual peer's connect
// failure — those are logged and retried on the next interval.
func (m *Maintainer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.reconnectLoop(ctx) })
	g.Go(func() error { return m.heartbeatLoop(ctx) })

	return g.Wait()
}

func (m *Maintainer) reconnectLoop(ctx context.Context) error {
	m.connectMissingPeers(ctx)

	ticker := time.NewTicker(ReconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.connectMissingPeers(ctx)
		}
	}
}

func (m *Maintainer) connectMissingPeers(ctx context.Context) {
	for _, peer := range m.Bootstrap {
		if m.alreadyConnected(peer) {
			continue
		}
		if err := m.connect(ctx, peer); err != nil && m.Log != nil {
			m.Log.Warn("bootstrap connect failed",
				logger.Field{Key: "peer", Value: peer.String()},
				logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

// alreadyConnected is a best-effort check: it considers a peer connected
// if any registered peer address matches. Multiple peers could share a
// host:port across reconnects; the tie-break in SERVER_HELLO_JOIN's
// handler resolves any resulting duplicate registration.
func (m *Maintainer) alreadyConnected(peer Peer) bool {
	for _, info := range m.Dir.SnapshotPeers() {
		if info.Host == peer.Host && info.Port == peer.Port {
			return true
		}
	}
	return false
}

func (m *Maintainer) connect(ctx context.Context, peer Peer) error {
	u := url.URL{Scheme: "ws", Host: peer.String(), Path: "/mesh"}
	conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}

	link := transport.NewClientLink(conn, transport.KindPeer)

	pubkeyPEM := ""
	if m.PublicKey != nil {
		if pem, err := cryptoutil.MarshalPublicKeyPEM(m.PublicKey); err == nil {
			pubkeyPEM = string(pem)
		}
	}

	hello := &envelope.Envelope{
		Type: envelope.TypeServerHelloJoin,
		From: m.ServerID,
		TS:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"host":   m.ListenHost,
			"port":   m.ListenPort,
			"pubkey": pubkeyPEM,
		},
	}
	if m.SigningKey != nil {
		if sig, err := envelope.SignPayload(hello.Payload, m.SigningKey); err == nil {
			hello.Sig, hello.Alg = sig, envelope.AlgPS256
		}
	}

	if err := link.Send(hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send SERVER_HELLO_JOIN: %w", err)
	}

	go m.Transport.ServeClient(ctx, link)
	return nil
}

func (m *Maintainer) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Router.BroadcastHeartbeat(ctx)
			dead := m.Router.ReapPeers(DeadAfter)
			if len(dead) > 0 && m.Log != nil {
				m.Log.Info("reaped dead peers", logger.Field{Key: "count", Value: len(dead)})
			}
		}
	}
}
