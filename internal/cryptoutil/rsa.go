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

// Package cryptoutil adapts the asymmetric primitives the mesh builds on
// (4096-bit RSA, OAEP-SHA256 encryption, PSS-SHA256 signatures) into a
// small set of pure functions. Callers never see a raw crypto/rsa error:
// verification failures collapse to a boolean, per the transport's
// requirement that signature checking never panics or propagates.
package cryptoutil

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// DefaultKeyBits is the modulus size generated by GenerateKeyPair.
const DefaultKeyBits = 4096

var (
	// ErrInvalidPEM is returned when a PEM block cannot be parsed as a key.
	ErrInvalidPEM = errors.New("cryptoutil: invalid PEM key")
	// ErrNotRSAKey is returned when a parsed key is of the wrong type.
	ErrNotRSAKey = errors.New("cryptoutil: not an RSA key")
)

// GenerateKeyPair generates a new RSA key pair of the given modulus size
// and returns it as unencrypted PKCS8 (private) and SPKI (public) PEM.
func GenerateKeyPair(bits int) (privPEM, pubPEM []byte, err error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: generate key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: marshal private key: %w", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoutil: marshal public key: %w", err)
	}

	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return privPEM, pubPEM, nil
}

// ParsePrivateKey decodes a PKCS8 PEM block into an *rsa.PrivateKey.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidPEM
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return rsaKey, nil
}

// MarshalPublicKeyPEM encodes pub as SPKI PEM, the form advertised in
// SERVER_WELCOME/SERVER_ANNOUNCE and USER_ADVERTISE payloads.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKey decodes an SPKI PEM block into an *rsa.PublicKey.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidPEM
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return rsaKey, nil
}

// maxOAEPPlaintext returns the largest plaintext OAEP-SHA256 can encrypt
// under a key of the given modulus size: k - 2*hLen - 2.
func maxOAEPPlaintext(pub *rsa.PublicKey) int {
	hLen := sha256.Size
	return pub.Size() - 2*hLen - 2
}

// OAEPEncrypt encrypts plaintext for pub using OAEP-SHA256. It fails if
// plaintext exceeds the modulus's single-block capacity; callers with
// larger payloads should use OAEPEncryptLarge.
func OAEPEncrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if max := maxOAEPPlaintext(pub); len(plaintext) > max {
		return nil, fmt.Errorf("cryptoutil: plaintext %d bytes exceeds OAEP limit %d", len(plaintext), max)
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
}

// OAEPDecrypt is the inverse of OAEPEncrypt.
func OAEPDecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
}

// OAEPEncryptLarge splits data into chunks no larger than the key's OAEP
// capacity and encrypts each independently. The chunk boundary is a
// contract with OAEPDecryptLarge: it concatenates ciphertexts in order.
func OAEPEncryptLarge(pub *rsa.PublicKey, data []byte) ([][]byte, error) {
	chunkSize := maxOAEPPlaintext(pub)
	if chunkSize <= 0 {
		return nil, fmt.Errorf("cryptoutil: key too small for OAEP-SHA256")
	}

	var out [][]byte
	for offset := 0; offset < len(data) || (len(data) == 0 && offset == 0); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk, err := OAEPEncrypt(pub, data[offset:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
		if len(data) == 0 {
			break
		}
	}
	return out, nil
}

// OAEPDecryptLarge decrypts and concatenates chunks produced by
// OAEPEncryptLarge, in order.
func OAEPDecryptLarge(priv *rsa.PrivateKey, chunks [][]byte) ([]byte, error) {
	var out []byte
	for i, chunk := range chunks {
		plain, err := OAEPDecrypt(priv, chunk)
		if err != nil {
			return nil, fmt.Errorf("cryptoutil: decrypt chunk %d: %w", i, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

// PSSSign signs msg with priv using PSS-SHA256 and the maximum salt length.
func PSSSign(priv *rsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
}

// PSSVerify verifies sig over msg under pub using PSS-SHA256. It never
// returns an error to the caller: any failure (bad signature, malformed
// key material) collapses to false.
func PSSVerify(pub *rsa.PublicKey, msg, sig []byte) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(msg)
	err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	return err == nil
}
