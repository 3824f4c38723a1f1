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

// Package postgres implements store.Directory backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meshoverlay/node/internal/store"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

var _ store.Directory = (*Store)(nil)

// Store implements store.Directory for PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new PostgreSQL-backed directory and verifies
// connectivity before returning.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// PublicKey looks up a user's persisted public key and advertise metadata.
func (s *Store) PublicKey(ctx context.Context, userID string) (*store.UserKey, error) {
	const query = `
		SELECT user_id, public_key, privkey_store, passcode_hash, meta, version, updated_at
		FROM user_keys WHERE user_id = $1
	`

	var k store.UserKey
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&k.UserID, &k.PublicKey, &k.PrivkeyStore, &k.PasscodeHash, &k.Meta, &k.Version, &k.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get public key: %w", err)
	}
	return &k, nil
}

// PutPublicKey persists or replaces a user's public key and advertise metadata.
func (s *Store) PutPublicKey(ctx context.Context, key *store.UserKey) error {
	const query = `
		INSERT INTO user_keys (user_id, public_key, privkey_store, passcode_hash, meta, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			public_key    = EXCLUDED.public_key,
			privkey_store = EXCLUDED.privkey_store,
			passcode_hash = EXCLUDED.passcode_hash,
			meta          = EXCLUDED.meta,
			version       = EXCLUDED.version,
			updated_at    = now()
	`
	if _, err := s.pool.Exec(ctx, query,
		key.UserID, key.PublicKey, key.PrivkeyStore, key.PasscodeHash, key.Meta, key.Version,
	); err != nil {
		return fmt.Errorf("put public key: %w", err)
	}
	return nil
}

// ChannelMembers lists the user ids that belong to a public channel.
func (s *Store) ChannelMembers(ctx context.Context, channel string) ([]string, error) {
	const query = `SELECT user_id FROM channel_members WHERE channel = $1 ORDER BY user_id`

	rows, err := s.pool.Query(ctx, query, channel)
	if err != nil {
		return nil, fmt.Errorf("list channel members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan channel member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel members: %w", err)
	}
	return members, nil
}

// AddChannelMember adds a user to a public channel's membership.
func (s *Store) AddChannelMember(ctx context.Context, channel, userID string) error {
	const query = `
		INSERT INTO channel_members (channel, user_id) VALUES ($1, $2)
		ON CONFLICT (channel, user_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, channel, userID); err != nil {
		return fmt.Errorf("add channel member: %w", err)
	}
	return nil
}

// RemoveChannelMember removes a user from a public channel.
func (s *Store) RemoveChannelMember(ctx context.Context, channel, userID string) error {
	const query = `DELETE FROM channel_members WHERE channel = $1 AND user_id = $2`
	if _, err := s.pool.Exec(ctx, query, channel, userID); err != nil {
		return fmt.Errorf("remove channel member: %w", err)
	}
	return nil
}

// WrappedGroupKey fetches the wrapped group key for one member.
func (s *Store) WrappedGroupKey(ctx context.Context, channel, userID string) (*store.WrappedGroupKey, error) {
	const query = `
		SELECT channel, user_id, wrapped, version, updated_at
		FROM wrapped_group_keys WHERE channel = $1 AND user_id = $2
	`
	var k store.WrappedGroupKey
	err := s.pool.QueryRow(ctx, query, channel, userID).Scan(
		&k.Channel, &k.UserID, &k.Wrapped, &k.Version, &k.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wrapped group key: %w", err)
	}
	return &k, nil
}

// PutWrappedGroupKey stores a wrapped group key for one member.
func (s *Store) PutWrappedGroupKey(ctx context.Context, key *store.WrappedGroupKey) error {
	const query = `
		INSERT INTO wrapped_group_keys (channel, user_id, wrapped, version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (channel, user_id) DO UPDATE
		SET wrapped = EXCLUDED.wrapped, version = EXCLUDED.version, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, key.Channel, key.UserID, key.Wrapped, key.Version); err != nil {
		return fmt.Errorf("put wrapped group key: %w", err)
	}
	return nil
}

// BumpVersion atomically increments and returns a channel's group key version.
func (s *Store) BumpVersion(ctx context.Context, channel string) (int, error) {
	const query = `
		INSERT INTO channel_versions (channel, version) VALUES ($1, 1)
		ON CONFLICT (channel) DO UPDATE SET version = channel_versions.version + 1
		RETURNING version
	`
	var version int
	if err := s.pool.QueryRow(ctx, query, channel).Scan(&version); err != nil {
		return 0, fmt.Errorf("bump channel version: %w", err)
	}
	return version, nil
}
