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

// Package envelope builds and verifies the outer frame every node and
// client exchanges: type, addressing, a millisecond timestamp, a
// type-specific payload, and an optional transport-hop signature.
package envelope

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/meshoverlay/node/internal/codec"
	"github.com/meshoverlay/node/internal/cryptoutil"
)

// Frame type constants, the catalogue every transport and handler dispatches on.
const (
	TypeServerHelloJoin   = "SERVER_HELLO_JOIN"
	TypeServerWelcome     = "SERVER_WELCOME"
	TypeServerAnnounce    = "SERVER_ANNOUNCE"
	TypeUserHello         = "USER_HELLO"
	TypeUserAdvertise     = "USER_ADVERTISE"
	TypeUserRemove        = "USER_REMOVE"
	TypeMsgDirect         = "MSG_DIRECT"
	TypeMsgPublicChannel  = "MSG_PUBLIC_CHANNEL"
	TypePeerDeliver       = "PEER_DELIVER"
	TypeUserDeliver       = "USER_DELIVER"
	TypeFileStart         = "FILE_START"
	TypeFileChunk         = "FILE_CHUNK"
	TypeFileEnd           = "FILE_END"
	TypeHeartbeat         = "HEARTBEAT"
	TypeAck               = "ACK"
	TypeError             = "ERROR"
	TypeCmdList           = "CMD_LIST"
	TypeUserList          = "USER_LIST"
	TypeBootstrapHelloTag = "BOOTSTRAP"
)

// AlgPS256 is the only signature algorithm the wire format carries.
const AlgPS256 = "PS256"

// Error codes carried in ERROR{code} payloads.
const (
	ErrCodeUserNotFound = "USER_NOT_FOUND"
	ErrCodeInvalidSig   = "INVALID_SIG"
	ErrCodeBadKey       = "BAD_KEY"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeUnknownType  = "UNKNOWN_TYPE"
	ErrCodeNameInUse    = "NAME_IN_USE"
)

// Envelope is the outer frame exchanged on every connection.
type Envelope struct {
	Type    string         `json:"type"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	TS      int64          `json:"ts"`
	Payload map[string]any `json:"payload"`
	Sig     string         `json:"sig"`
	Alg     string         `json:"alg,omitempty"`
}

// IsHandshake reports whether type belongs to the handshake family for
// which the transport's signature policy is optional: SERVER_HELLO*,
// USER_HELLO*, and BOOTSTRAP*.
func IsHandshake(frameType string) bool {
	return strings.HasPrefix(frameType, TypeUserHello) ||
		strings.HasPrefix(frameType, "SERVER_HELLO") ||
		strings.HasPrefix(frameType, TypeBootstrapHelloTag)
}

// SignPayload signs payload's canonical bytes with priv and returns the
// unpadded base64url signature.
func SignPayload(payload map[string]any, priv *rsa.PrivateKey) (string, error) {
	canon, err := codec.Canonical(payload)
	if err != nil {
		return "", fmt.Errorf("envelope: canonicalize payload: %w", err)
	}
	sig, err := cryptoutil.PSSSign(priv, canon)
	if err != nil {
		return "", fmt.Errorf("envelope: sign payload: %w", err)
	}
	return codec.B64U(sig), nil
}

// VerifyPayload verifies sigB64u over payload's canonical bytes under pub.
// It never returns an error: any failure (bad key, bad encoding, bad
// signature) collapses to false.
func VerifyPayload(pub *rsa.PublicKey, payload map[string]any, sigB64u string) bool {
	canon, err := codec.Canonical(payload)
	if err != nil {
		return false
	}
	sig, err := codec.B64UDecode(sigB64u)
	if err != nil {
		return false
	}
	return cryptoutil.PSSVerify(pub, canon, sig)
}

// PublicKeyLookup resolves a from-id (server_id or user_id) to its known
// public key, or ok=false if unknown.
type PublicKeyLookup func(id string) (*rsa.PublicKey, bool)

// Verifier is a total function from envelope to pass/fail: it never
// panics and never returns an error, matching the transport's
// requirement that signature checking cannot abort a connection.
type Verifier func(env *Envelope) bool

// MakeVerifier builds a Verifier around a public-key lookup. Handshake
// frames (USER_HELLO*, SERVER_HELLO*, BOOTSTRAP*) always pass: signatures
// are optional until a key has been exchanged. Every other frame must
// carry a signature verifiable under the sender's known public key.
func MakeVerifier(lookup PublicKeyLookup) Verifier {
	return func(env *Envelope) bool {
		if IsHandshake(env.Type) {
			return true
		}
		if env.Sig == "" {
			return false
		}
		pub, ok := lookup(env.From)
		if !ok {
			return false
		}
		return VerifyPayload(pub, env.Payload, env.Sig)
	}
}

// Fingerprint computes the dedupe key for an envelope:
// "{ts}|{from}|{to}|{hex(sha256(canonical(payload)))}".
func Fingerprint(env *Envelope) (string, error) {
	canon, err := codec.Canonical(env.Payload)
	if err != nil {
		return "", fmt.Errorf("envelope: fingerprint: %w", err)
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%d|%s|%s|%s", env.TS, env.From, env.To, hex.EncodeToString(sum[:])), nil
}

// ContentSign computes the end-to-end content signature that binds a
// direct message's ciphertext to its sender across hops:
// b64u(pss_sign(priv, sha256(ciphertext || from || to || ts_ascii))).
func ContentSign(priv *rsa.PrivateKey, ciphertext []byte, from, to string, ts int64) (string, error) {
	digest := contentDigest(ciphertext, from, to, ts)
	sig, err := cryptoutil.PSSSign(priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("envelope: content sign: %w", err)
	}
	return codec.B64U(sig), nil
}

// VerifyContentSig verifies a content_sig produced by ContentSign.
func VerifyContentSig(pub *rsa.PublicKey, ciphertext []byte, from, to string, ts int64, sigB64u string) bool {
	sig, err := codec.B64UDecode(sigB64u)
	if err != nil {
		return false
	}
	digest := contentDigest(ciphertext, from, to, ts)
	return cryptoutil.PSSVerify(pub, digest[:], sig)
}

func contentDigest(ciphertext []byte, from, to string, ts int64) [32]byte {
	h := sha256.New()
	h.Write(ciphertext)
	h.Write([]byte(from))
	h.Write([]byte(to))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
