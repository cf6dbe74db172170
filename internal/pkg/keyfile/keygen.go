// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package keyfile

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/flynn/noise"
)

// networkingKeySeedLen is the raw seed persisted as Keyfile.NetworkingKey:
// an ed25519 seed (32 bytes, spec §4.2's node-keypair signatures) plus a
// noise X25519 static-key seed (32 bytes, spec §4.5's Noise XX transport),
// concatenated. Keeping both under one encrypted blob matches the spec's
// "encrypted-networking-keypair" singular field (§6).
const networkingKeySeedLen = 64

// GenerateNetworkingKey produces fresh seed material for both halves of a
// node's networking keypair (the ed25519 identity key used to sign
// handshake payloads and capability transfers, and the Noise XX static
// key). It is the raw bytes a fresh keyfile's NetworkingKey field holds.
func GenerateNetworkingKey() ([]byte, error) {
	seed := make([]byte, networkingKeySeedLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("keyfile: generating networking key: %w", err)
	}
	return seed, nil
}

// DeriveNetworkingKeys splits a keyfile's decrypted NetworkingKey into the
// ed25519 identity keypair and the Noise static DH keypair the networking
// layer needs (internal/pkg/network.New's identityKey/staticKey
// params). The Noise static key is derived from the second half of the
// seed via HKDF-like single-round SHA-256 stretch, since flynn/noise wants
// a deterministic reader, not raw seed bytes, for X25519 keypair
// generation.
func DeriveNetworkingKeys(networkingKey []byte) (ed25519.PrivateKey, noise.DHKey, error) {
	if len(networkingKey) != networkingKeySeedLen {
		return nil, noise.DHKey{}, fmt.Errorf("keyfile: networking key must be %d bytes, got %d", networkingKeySeedLen, len(networkingKey))
	}
	edSeed, dhSeed := networkingKey[:32], networkingKey[32:]

	identityKey := ed25519.NewKeyFromSeed(edSeed)

	h := sha256.Sum256(dhSeed)
	dh, err := noise.DH25519.GenerateKeypair(&deterministicReader{seed: h[:]})
	if err != nil {
		return nil, noise.DHKey{}, fmt.Errorf("keyfile: deriving noise static key: %w", err)
	}
	return identityKey, dh, nil
}

// deterministicReader replays a fixed 32-byte seed for exactly one
// noise.DH25519.GenerateKeypair call's io.Reader.Read (it consumes 32
// bytes).
type deterministicReader struct {
	seed []byte
	off  int
}

func (r *deterministicReader) Read(p []byte) (int, error) {
	n := copy(p, r.seed[r.off:])
	r.off += n
	return n, nil
}
