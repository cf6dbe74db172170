// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/vmihailenco/msgpack/v5"
)

const protocolVersion = 1

// HandshakePayload accompanies each static-key Noise message (spec §4.5):
// "Each side's static-key message is accompanied by a HandshakePayload".
type HandshakePayload struct {
	ProtocolVersion uint32 `msgpack:"protocol_version"`
	Name            string `msgpack:"name"`
	Signature       []byte `msgpack:"signature"`
	ProxyRequest    bool   `msgpack:"proxy_request"`
}

// RoutingRequest is sent to a chosen router when the target is indirect
// (spec §4.5's routed handshake).
type RoutingRequest struct {
	ProtocolVersion uint32 `msgpack:"protocol_version"`
	Source          string `msgpack:"source"`
	Signature       []byte `msgpack:"signature"` // over target || router
	Target          string `msgpack:"target"`
}

func cipherSuite() noise.CipherSuite {
	return noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
}

// handshakeState drives one XX handshake to completion and returns the
// resulting send/receive cipher states plus the verified peer payload.
type handshakeState struct {
	hs *noise.HandshakeState
}

func newHandshake(initiator bool, staticKey noise.DHKey, rng io.Reader) (*handshakeState, error) {
	if rng == nil {
		rng = rand.Reader
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite(),
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: staticKey,
		Random:        rng,
	})
	if err != nil {
		return nil, fmt.Errorf("network: building noise handshake state: %w", err)
	}
	return &handshakeState{hs: hs}, nil
}

// signHandshake signs networkingPublicKey with the node's ed25519 identity
// key, as required for the HandshakePayload's signature field (spec §4.5).
func signHandshake(identityKey ed25519.PrivateKey, networkingPublicKey []byte) []byte {
	return ed25519.Sign(identityKey, networkingPublicKey)
}

func verifyHandshakeSignature(identityPublicKey ed25519.PublicKey, networkingPublicKey, sig []byte) bool {
	return ed25519.Verify(identityPublicKey, networkingPublicKey, sig)
}

func marshalPayload(p HandshakePayload) ([]byte, error) {
	return msgpack.Marshal(p)
}

func unmarshalPayload(b []byte) (HandshakePayload, error) {
	var p HandshakePayload
	err := msgpack.Unmarshal(b, &p)
	return p, err
}
