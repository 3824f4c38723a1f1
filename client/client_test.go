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

package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshoverlay/node/internal/cryptoutil"
	"github.com/meshoverlay/node/internal/directory"
	"github.com/meshoverlay/node/internal/envelope"
	"github.com/meshoverlay/node/internal/handlers"
	"github.com/meshoverlay/node/internal/router"
	"github.com/meshoverlay/node/internal/transport"
)

const (
	testAlice = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	testBob   = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
)

func newTestNode(t *testing.T) string {
	t.Helper()
	dir := directory.New()

	sendToPeer := func(id string, env *envelope.Envelope) error {
		link, ok := dir.PeerLink(id)
		if !ok {
			return assert.AnError
		}
		return link.(*transport.Link).Send(env)
	}
	sendToLocal := func(id string, env *envelope.Envelope) error {
		link, ok := dir.LocalUserLink(id)
		if !ok {
			return assert.AnError
		}
		return link.(*transport.Link).Send(env)
	}

	r := router.New(router.Config{ServerID: "srv-1", SendToPeer: sendToPeer, SendToLocal: sendToLocal, Directory: dir})
	deps := &handlers.Deps{ServerID: "srv-1", Dir: dir, Router: r, NamePolicy: handlers.PolicyLastWins}
	verifier := func(*envelope.Envelope) bool { return true }
	srv := transport.NewServer(verifier, handlers.Table(deps), nil, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClientSendDirectAndReceive(t *testing.T) {
	wsURL := newTestNode(t)

	bobPrivPEM, bobPubPEM, err := cryptoutil.GenerateKeyPair(2048)
	require.NoError(t, err)
	bobPriv, err := cryptoutil.ParsePrivateKey(bobPrivPEM)
	require.NoError(t, err)
	bobPub, err := cryptoutil.ParsePublicKey(bobPubPEM)
	require.NoError(t, err)

	alicePrivPEM, _, err := cryptoutil.GenerateKeyPair(2048)
	require.NoError(t, err)
	alicePriv, err := cryptoutil.ParsePrivateKey(alicePrivPEM)
	require.NoError(t, err)

	bob := New(wsURL, testBob, bobPriv)
	require.NoError(t, bob.Connect(context.Background()))
	defer bob.Close()

	alice := New(wsURL, testAlice, alicePriv)
	require.NoError(t, alice.Connect(context.Background()))
	defer alice.Close()

	time.Sleep(50 * time.Millisecond) // let both USER_HELLOs land before the send

	require.NoError(t, alice.SendDirect(testBob, bobPub, []byte("hello bob")))

	select {
	case env := <-bob.Deliveries:
		assert.Equal(t, envelope.TypeUserDeliver, env.Type)
		assert.Equal(t, testBob, env.To)
	case <-time.After(2 * time.Second):
		t.Fatal("bob did not receive delivery")
	}
}

func TestClientListUsers(t *testing.T) {
	wsURL := newTestNode(t)

	alice := New(wsURL, testAlice, nil)
	require.NoError(t, alice.Connect(context.Background()))
	defer alice.Close()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, alice.ListUsers())

	select {
	case env := <-alice.UserLists:
		assert.Equal(t, envelope.TypeUserList, env.Type)
		users, _ := env.Payload["users"].([]any)
		assert.Contains(t, users, testAlice)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive USER_LIST")
	}
}

func TestClientConnectFailsOnBadURL(t *testing.T) {
	c := New("ws://127.0.0.1:1/mesh", testAlice, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := c.Connect(ctx)
	assert.Error(t, err)
}
