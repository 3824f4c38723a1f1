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

// Package handlers implements one handler per wire frame type. Handlers
// are the sole mutators of the directory from the network side: they
// never hold the directory lock while sending, and every handler takes
// (ctx, link, env) per the transport's dispatch signature.
package handlers

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshoverlay/node/internal/codec"
	"github.com/meshoverlay/node/internal/cryptoutil"
	"github.com/meshoverlay/node/internal/directory"
	"github.com/meshoverlay/node/internal/envelope"
	"github.com/meshoverlay/node/internal/logger"
	"github.com/meshoverlay/node/internal/metrics"
	"github.com/meshoverlay/node/internal/router"
	"github.com/meshoverlay/node/internal/store"
	"github.com/meshoverlay/node/internal/transport"
)

// NamePolicy decides how a duplicate USER_HELLO for an already-attached
// user id is resolved.
type NamePolicy int

const (
	// PolicyLastWins closes the older link with reason "replaced" and
	// accepts the new one.
	PolicyLastWins NamePolicy = iota
	// PolicyStrict rejects the new hello with ERROR{NAME_IN_USE}.
	PolicyStrict
)

// Deps collects everything the handler table needs: node identity, the
// directory it mutates, the router it delegates delivery to, and the
// policy knobs the design left as open questions.
type Deps struct {
	ServerID   string
	SigningKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	Dir        *directory.Directory
	Router     *router.Router
	Durable    store.Directory // optional; nil disables durable persistence/lookup
	Log        logger.Logger
	NamePolicy NamePolicy
}

// Table builds the transport dispatch table: one entry per frame type
// this node understands, bound to deps.
func Table(deps *Deps) map[string]transport.Handler {
	return map[string]transport.Handler{
		envelope.TypeServerHelloJoin:  deps.handleServerHelloJoin,
		envelope.TypeServerWelcome:    deps.handleServerWelcome,
		envelope.TypeServerAnnounce:   deps.handleServerAnnounce,
		envelope.TypeHeartbeat:        deps.handleHeartbeat,
		envelope.TypeUserHello:        deps.handleUserHello,
		envelope.TypeUserAdvertise:    deps.handleUserAdvertise,
		envelope.TypeUserRemove:       deps.handleUserRemove,
		envelope.TypePeerDeliver:      deps.handlePeerDeliver,
		envelope.TypeMsgDirect:        deps.handleMsgDirect,
		envelope.TypeMsgPublicChannel: deps.handleMsgPublicChannel,
		envelope.TypeFileStart:        deps.handleFileFrame,
		envelope.TypeFileChunk:        deps.handleFileFrame,
		envelope.TypeFileEnd:          deps.handleFileFrame,
		envelope.TypeCmdList:          deps.handleCmdList,
	}
}

func (d *Deps) sign(payload map[string]any) (string, string) {
	if d.SigningKey == nil {
		return "", ""
	}
	sig, err := envelope.SignPayload(payload, d.SigningKey)
	if err != nil {
		return "", ""
	}
	return sig, envelope.AlgPS256
}

func (d *Deps) newEnvelope(typ, from, to string, payload map[string]any) *envelope.Envelope {
	env := &envelope.Envelope{
		Type:    typ,
		From:    from,
		To:      to,
		TS:      time.Now().UnixMilli(),
		Payload: payload,
	}
	env.Sig, env.Alg = d.sign(payload)
	return env
}

// broadcastToPeersExcept gossips env to every connected peer other than
// exceptSID (pass "" to include all peers).
func (d *Deps) broadcastToPeersExcept(env *envelope.Envelope, exceptSID string) {
	for _, sid := range d.Dir.PeerIDs() {
		if sid == exceptSID {
			continue
		}
		link, ok := d.Dir.PeerLink(sid)
		if !ok {
			continue
		}
		if l, ok := link.(*transport.Link); ok {
			_ = l.Send(env)
		}
	}
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

// handleServerHelloJoin: inbound from a peer that connected to us.
func (d *Deps) handleServerHelloJoin(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	host := stringField(env.Payload, "host")
	port, _ := env.Payload["port"].(float64)
	pubkeyPEM := stringField(env.Payload, "pubkey")
	peerID := env.From

	if d.Dir.HasPeer(peerID) {
		if d.ServerID < peerID {
			_ = link.Close(1000, "tie-break")
			return nil
		}
		if existing, ok := d.Dir.PeerLink(peerID); ok {
			if l, ok := existing.(*transport.Link); ok {
				_ = l.Close(1000, "tie-break")
			}
		}
		d.Dir.DetachPeer(peerID)
	}

	link.Classify(transport.KindPeer, peerID)
	d.Dir.AttachPeer(peerID, link, directory.PeerAddr{Host: host, Port: int(port)})

	if pubkeyPEM != "" {
		if pub, err := cryptoutil.ParsePublicKey([]byte(pubkeyPEM)); err == nil {
			d.Dir.SetPeerPublicKey(peerID, pub)
		}
	}

	peers := d.Dir.SnapshotPeers()
	peerList := make([]any, 0, len(peers))
	for _, p := range peers {
		peerList = append(peerList, map[string]any{"id": p.ID, "host": p.Host, "port": p.Port})
	}

	welcomePub := ""
	if d.PublicKey != nil {
		welcomePub = publicKeyPEM(d.PublicKey)
	}
	welcome := d.newEnvelope(envelope.TypeServerWelcome, d.ServerID, peerID, map[string]any{
		"assigned_id": d.ServerID,
		"peers":       peerList,
		"pubkey":      welcomePub,
	})
	if err := link.Send(welcome); err != nil {
		return fmt.Errorf("send SERVER_WELCOME: %w", err)
	}

	announce := d.newEnvelope(envelope.TypeServerAnnounce, d.ServerID, "*", map[string]any{"host": host, "port": int(port)})
	d.broadcastToPeersExcept(announce, peerID)

	for _, advertise := range d.Dir.KnownUserAdvertises() {
		_ = link.Send(advertise)
	}

	return nil
}

// handleServerWelcome: received in response to our outbound connect.
func (d *Deps) handleServerWelcome(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	pubkeyPEM := stringField(env.Payload, "pubkey")
	assignedID := stringField(env.Payload, "assigned_id")
	if assignedID == "" {
		assignedID = env.From
	}

	pub, err := cryptoutil.ParsePublicKey([]byte(pubkeyPEM))
	if err != nil {
		return fmt.Errorf("parse peer public key: %w", err)
	}
	if !envelope.VerifyPayload(pub, env.Payload, env.Sig) {
		return fmt.Errorf("invalid SERVER_WELCOME signature")
	}

	link.Classify(transport.KindPeer, assignedID)
	d.Dir.SetPeerPublicKey(assignedID, pub)
	d.Dir.AttachPeer(assignedID, link, directory.PeerAddr{})
	d.Router.NotePeerSeen(assignedID)
	return nil
}

// handleServerAnnounce: address/liveness gossip from an already-known peer.
func (d *Deps) handleServerAnnounce(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	pub, ok := d.Dir.PeerPublicKey(env.From)
	if !ok || !envelope.VerifyPayload(pub, env.Payload, env.Sig) {
		return nil
	}
	host := stringField(env.Payload, "host")
	port, _ := env.Payload["port"].(float64)
	d.Dir.AttachPeer(env.From, link, directory.PeerAddr{Host: host, Port: int(port)})
	d.Router.NotePeerSeen(env.From)
	return nil
}

func (d *Deps) handleHeartbeat(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	d.Router.NotePeerSeen(env.From)
	return nil
}

// handleUserHello: inbound from a user connecting to this node.
func (d *Deps) handleUserHello(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	uid := env.From

	if existing, ok := d.Dir.LocalUserLink(uid); ok {
		if d.NamePolicy == PolicyStrict {
			return link.Send(d.newEnvelope(envelope.TypeError, d.ServerID, uid, map[string]any{
				"code": envelope.ErrCodeNameInUse, "detail": uid,
			}))
		}
		if l, ok := existing.(*transport.Link); ok {
			_ = l.Close(1000, "replaced")
		}
		d.Dir.DetachUser(uid)
	}

	link.Classify(transport.KindUser, uid)
	d.Dir.AttachUser(uid, link)
	d.Router.RecordPresence(uid, directory.LocationLocal)

	if err := link.Send(d.newEnvelope(envelope.TypeAck, d.ServerID, uid, map[string]any{"msg_ref": envelope.TypeUserHello})); err != nil {
		return err
	}

	for _, advertise := range d.Dir.KnownUserAdvertises() {
		if advertise.From == uid {
			continue
		}
		_ = link.Send(advertise)
	}
	return nil
}

// handleUserAdvertise: presence gossip for a user, local or remote.
func (d *Deps) handleUserAdvertise(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	if d.Router.AlreadySeen(env) {
		return nil
	}

	uid := stringField(env.Payload, "user_id")
	pubkeyPEM := stringField(env.Payload, "pubkey")
	pub, err := cryptoutil.ParsePublicKey([]byte(pubkeyPEM))
	if err != nil || !envelope.VerifyPayload(pub, env.Payload, env.Sig) {
		metrics.InvalidSignatures.Inc()
		return nil
	}

	d.Dir.SetUserPublicKey(uid, pub)
	d.Dir.CacheAdvertise(uid, env)
	if env.From != d.ServerID {
		d.Router.RecordPresence(uid, env.From)
	}

	d.persistAdvertise(ctx, uid, pubkeyPEM, env.Payload)

	ingress := ""
	if link != nil {
		ingress = link.ID()
	}
	d.broadcastToPeersExcept(env, ingress)
	return nil
}

// persistAdvertise writes the USER_ADVERTISE payload's durable fields
// (privkey_store, pake_password, meta, version) to the durable directory
// store, hashing the passcode before it ever touches disk. Best-effort:
// a persistence failure is logged but never fails the handler, since the
// in-memory directory (already updated above) remains authoritative for
// live routing.
func (d *Deps) persistAdvertise(ctx context.Context, uid, pubkeyPEM string, payload map[string]any) {
	if d.Durable == nil {
		return
	}

	key := &store.UserKey{
		UserID:       uid,
		PublicKey:    []byte(pubkeyPEM),
		PrivkeyStore: []byte(stringField(payload, "privkey_store")),
	}
	if v, ok := payload["version"].(float64); ok {
		key.Version = int(v)
	}
	if meta, ok := payload["meta"]; ok && meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			key.Meta = b
		}
	}
	if passcode := stringField(payload, "pake_password"); passcode != "" {
		hash, err := store.HashPasscode(passcode)
		if err != nil {
			if d.Log != nil {
				d.Log.Warn("hash pake_password", logger.Field{Key: "user_id", Value: uid}, logger.Field{Key: "error", Value: err.Error()})
			}
		} else {
			key.PasscodeHash = hash
		}
	}

	if err := d.Durable.PutPublicKey(ctx, key); err != nil && d.Log != nil {
		d.Log.Warn("persist user advertise", logger.Field{Key: "user_id", Value: uid}, logger.Field{Key: "error", Value: err.Error()})
	}
}

// handleUserRemove: a user's home node reports they disconnected.
func (d *Deps) handleUserRemove(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	if d.Router.AlreadySeen(env) {
		return nil
	}

	uid := stringField(env.Payload, "user_id")
	location := stringField(env.Payload, "location")

	pub, ok := d.Dir.UserPublicKey(uid)
	if !ok || !envelope.VerifyPayload(pub, env.Payload, env.Sig) {
		return nil
	}

	d.Dir.RemoveUserLocationIfMatches(uid, location)

	ingress := ""
	if link != nil {
		ingress = link.ID()
	}
	d.broadcastToPeersExcept(env, ingress)
	return nil
}

// handlePeerDeliver: a hop-wrapped frame destined for a user this node
// believes it hosts. The ciphertext inside is never inspected.
func (d *Deps) handlePeerDeliver(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	if d.Router.AlreadySeen(env) {
		return nil
	}
	target := stringField(env.Payload, "user_id")
	inner := make(map[string]any, len(env.Payload))
	for k, v := range env.Payload {
		if k == "user_id" {
			continue
		}
		inner[k] = v
	}
	d.Router.RouteToUser(target, &envelope.Envelope{Payload: inner}, true)
	return nil
}

// handleMsgDirect: a direct message accepted at the sender's edge node.
// The transport sig was already checked by the generic verifier; here we
// additionally verify the end-to-end content_sig binding the ciphertext
// to its sender, since servers must never decrypt direct messages but
// must still authenticate them.
func (d *Deps) handleMsgDirect(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	if d.Router.AlreadySeen(env) {
		return nil
	}

	to := stringField(env.Payload, "to")
	if to == "" {
		to = env.To
	}

	if !d.verifyContentSig(ctx, env) {
		metrics.InvalidSignatures.Inc()
		return link.Send(d.newEnvelope(envelope.TypeError, d.ServerID, env.From, map[string]any{
			"code": envelope.ErrCodeInvalidSig, "detail": "content_sig",
		}))
	}

	d.Router.RouteToUser(to, env, true)
	return nil
}

// verifyContentSig checks a MSG_DIRECT / FILE_* frame's content_sig
// against the sender's known public key. Frames with no content_sig
// (e.g. forwarded hops) or an unknown sender key are treated as
// unverifiable, not as automatically valid.
func (d *Deps) verifyContentSig(ctx context.Context, env *envelope.Envelope) bool {
	contentSig := stringField(env.Payload, "content_sig")
	if contentSig == "" {
		return false
	}
	ciphertext, err := codec.B64UDecode(stringField(env.Payload, "ciphertext"))
	if err != nil {
		return false
	}
	pub, ok := d.resolveUserPublicKey(ctx, env.From)
	if !ok {
		return false
	}
	to := stringField(env.Payload, "to")
	if to == "" {
		to = env.To
	}
	return envelope.VerifyContentSig(pub, ciphertext, env.From, to, env.TS, contentSig)
}

// resolveUserPublicKey looks up uid's public key in the live directory,
// falling back to the durable store (e.g. a user known from a previous
// process lifetime, or gossiped before this node last restarted) and
// caching a hit back into the live directory so subsequent lookups stay
// in-memory.
func (d *Deps) resolveUserPublicKey(ctx context.Context, uid string) (*rsa.PublicKey, bool) {
	if pub, ok := d.Dir.UserPublicKey(uid); ok {
		return pub, true
	}
	if d.Durable == nil {
		return nil, false
	}
	rec, err := d.Durable.PublicKey(ctx, uid)
	if err != nil || rec == nil || len(rec.PublicKey) == 0 {
		return nil, false
	}
	pub, err := cryptoutil.ParsePublicKey(rec.PublicKey)
	if err != nil {
		return nil, false
	}
	d.Dir.SetUserPublicKey(uid, pub)
	return pub, true
}

// handleMsgPublicChannel: fan out to local users, then to peers, never
// decrypting the payload.
func (d *Deps) handleMsgPublicChannel(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	if d.Router.AlreadySeen(env) {
		return nil
	}

	sender := env.From
	for _, uid := range d.Dir.LocalUserIDs() {
		if uid == sender {
			continue
		}
		if l, ok := d.Dir.LocalUserLink(uid); ok {
			if conn, ok := l.(*transport.Link); ok {
				_ = conn.Send(env)
			}
		}
	}

	ingress := ""
	if link != nil {
		ingress = link.ID()
	}
	d.broadcastToPeersExcept(env, ingress)
	return nil
}

// handleFileFrame: FILE_START/CHUNK/END route identically to MSG_DIRECT,
// including the sender-edge content_sig check — a forged file chunk is no
// less dangerous than a forged direct message.
func (d *Deps) handleFileFrame(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	if d.Router.AlreadySeen(env) {
		return nil
	}

	if !d.verifyContentSig(ctx, env) {
		metrics.InvalidSignatures.Inc()
		return link.Send(d.newEnvelope(envelope.TypeError, d.ServerID, env.From, map[string]any{
			"code": envelope.ErrCodeInvalidSig, "detail": "content_sig",
		}))
	}

	d.Router.RouteToUser(env.To, env, true)
	return nil
}

// handleCmdList: local-only, replies with the set of connected users.
func (d *Deps) handleCmdList(ctx context.Context, link *transport.Link, env *envelope.Envelope) error {
	users := d.Dir.LocalUserIDs()
	usersAny := make([]any, 0, len(users))
	for _, u := range users {
		usersAny = append(usersAny, u)
	}
	return link.Send(d.newEnvelope(envelope.TypeUserList, d.ServerID, env.From, map[string]any{"users": usersAny}))
}

func publicKeyPEM(pub *rsa.PublicKey) string {
	pem, err := cryptoutil.MarshalPublicKeyPEM(pub)
	if err != nil {
		return ""
	}
	return string(pem)
}
