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

// Package memory implements store.Directory without any external
// dependency, for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/meshoverlay/node/internal/store"
)

var _ store.Directory = (*Store)(nil)

// Store is an in-memory implementation of store.Directory.
type Store struct {
	mu      sync.RWMutex
	keys    map[string]*store.UserKey
	members map[string]map[string]struct{} // channel -> set of user ids
	wrapped map[string]*store.WrappedGroupKey
	version map[string]int
}

// NewStore creates a new in-memory directory.
func NewStore() *Store {
	return &Store{
		keys:    make(map[string]*store.UserKey),
		members: make(map[string]map[string]struct{}),
		wrapped: make(map[string]*store.WrappedGroupKey),
		version: make(map[string]int),
	}
}

func wrappedKey(channel, userID string) string {
	return channel + "\x00" + userID
}

// PublicKey looks up a user's persisted public key.
func (s *Store) PublicKey(ctx context.Context, userID string) (*store.UserKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *k
	return &copied, nil
}

// PutPublicKey persists or replaces a user's public key.
func (s *Store) PutPublicKey(ctx context.Context, key *store.UserKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *key
	copied.UpdatedAt = time.Now()
	s.keys[key.UserID] = &copied
	return nil
}

// ChannelMembers lists the user ids that belong to a public channel.
func (s *Store) ChannelMembers(ctx context.Context, channel string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.members[channel]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out, nil
}

// AddChannelMember adds a user to a public channel's membership.
func (s *Store) AddChannelMember(ctx context.Context, channel, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[channel]
	if !ok {
		set = make(map[string]struct{})
		s.members[channel] = set
	}
	set[userID] = struct{}{}
	return nil
}

// RemoveChannelMember removes a user from a public channel.
func (s *Store) RemoveChannelMember(ctx context.Context, channel, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.members[channel]; ok {
		delete(set, userID)
	}
	return nil
}

// WrappedGroupKey fetches the wrapped group key for one member.
func (s *Store) WrappedGroupKey(ctx context.Context, channel, userID string) (*store.WrappedGroupKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.wrapped[wrappedKey(channel, userID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *k
	return &copied, nil
}

// PutWrappedGroupKey stores a wrapped group key for one member.
func (s *Store) PutWrappedGroupKey(ctx context.Context, key *store.WrappedGroupKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *key
	copied.UpdatedAt = time.Now()
	s.wrapped[wrappedKey(key.Channel, key.UserID)] = &copied
	return nil
}

// BumpVersion atomically increments and returns a channel's group key version.
func (s *Store) BumpVersion(ctx context.Context, channel string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version[channel]++
	return s.version[channel], nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(ctx context.Context) error { return nil }
