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

package cryptoutil

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "node_private_key.pem"
	publicKeyFile  = "node_public_key.pem"
)

// LoadOrCreateNodeKeyPair loads the node's persisted keypair from dir, or
// generates and persists a fresh one on first boot. dir is created if
// absent. Files are written unencrypted, matching how the bootstrap
// collaborator is specified: PKCS8 private key, SPKI public key.
func LoadOrCreateNodeKeyPair(dir string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: create key directory: %w", err)
	}

	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	privBytes, privErr := os.ReadFile(privPath)
	pubBytes, pubErr := os.ReadFile(pubPath)
	if privErr == nil && pubErr == nil {
		priv, err := ParsePrivateKey(privBytes)
		if err != nil {
			return nil, nil, err
		}
		pub, err := ParsePublicKey(pubBytes)
		if err != nil {
			return nil, nil, err
		}
		return priv, pub, nil
	}

	privPEM, pubPEM, err := GenerateKeyPair(DefaultKeyBits)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: write public key: %w", err)
	}

	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		return nil, nil, err
	}
	pub, err := ParsePublicKey(pubPEM)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}
