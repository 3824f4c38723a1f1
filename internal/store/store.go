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

// Package store defines the thin external-collaborator interface the
// frame handlers consume for durable state: user public keys,
// public-channel membership, and wrapped group keys. The in-process
// directory (see internal/directory) stays authoritative for who is
// attached right now; this package is the persistence side-channel it
// is allowed to consult, e.g. to answer for a user who isn't currently
// local.
package store

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned when a lookup finds no matching record.
var ErrNotFound = errors.New("store: not found")

// UserKey is a user's persisted directory record: RSA public key (SPKI
// PEM), the USER_ADVERTISE payload's opaque wrapped-private-key blob and
// metadata, and a bcrypt hash of the pairing passcode (never the
// passcode itself, though the envelope carrying it is still forwarded
// unmodified on the wire — only the directory's own copy is hashed at rest).
type UserKey struct {
	UserID       string    `json:"user_id"`
	PublicKey    []byte    `json:"public_key"`
	PrivkeyStore []byte    `json:"privkey_store,omitempty"`
	PasscodeHash []byte    `json:"-"`
	Meta         []byte    `json:"meta,omitempty"`
	Version      int       `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HashPasscode hashes a user-supplied pairing passcode before it is
// persisted, so the directory never stores it in cleartext.
func HashPasscode(passcode string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
}

// VerifyPasscode checks a passcode against its stored bcrypt hash.
func VerifyPasscode(hash []byte, passcode string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(passcode)) == nil
}

// WrappedGroupKey is a per-channel symmetric key, wrapped for one member.
type WrappedGroupKey struct {
	Channel   string    `json:"channel"`
	UserID    string    `json:"user_id"`
	Wrapped   []byte    `json:"wrapped"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Directory is the durable-side interface consumed by the frame handlers
// (and pinged by the node's store health check). It never needs to know
// about live WebSocket connections; that is the in-memory directory's job.
type Directory interface {
	// PublicKey looks up a user's persisted public key.
	PublicKey(ctx context.Context, userID string) (*UserKey, error)

	// PutPublicKey persists or replaces a user's public key.
	PutPublicKey(ctx context.Context, key *UserKey) error

	// ChannelMembers lists the user ids that belong to a public channel.
	ChannelMembers(ctx context.Context, channel string) ([]string, error)

	// AddChannelMember adds a user to a public channel's membership.
	AddChannelMember(ctx context.Context, channel, userID string) error

	// RemoveChannelMember removes a user from a public channel.
	RemoveChannelMember(ctx context.Context, channel, userID string) error

	// WrappedGroupKey fetches the wrapped group key for one member.
	WrappedGroupKey(ctx context.Context, channel, userID string) (*WrappedGroupKey, error)

	// PutWrappedGroupKey stores a wrapped group key for one member.
	PutWrappedGroupKey(ctx context.Context, key *WrappedGroupKey) error

	// BumpVersion atomically increments and returns a channel's group key
	// version, used to fence stale wrapped keys after rekeying.
	BumpVersion(ctx context.Context, channel string) (int, error)

	// Close releases any resources held by the directory.
	Close() error

	// Ping checks the directory's connectivity.
	Ping(ctx context.Context) error
}
