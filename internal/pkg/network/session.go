// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"crypto/ed25519"
	"fmt"

	"github.com/flynn/noise"
)

// cipherState wraps a noise.CipherState so callers don't depend on the
// flynn/noise import directly outside this file.
type cipherState struct {
	cs *noise.CipherState
}

func (c *cipherState) encrypt(ad, plaintext []byte) []byte {
	return c.cs.Encrypt(nil, ad, plaintext)
}

func (c *cipherState) decrypt(ad, ciphertext []byte) ([]byte, error) {
	return c.cs.Decrypt(nil, ad, ciphertext)
}

// runInitiatorHandshake drives the XX pattern as the connecting side
// (spec §4.5 step 3: "-> e", "<- e, ee, s, es", "-> s, se"). ourPayload is
// attached to our static-key message (the third, for the initiator);
// onRemotePayload is invoked with the responder's static-key payload
// (the second message) so the caller can verify the PKI signature before
// completing message 3.
func runInitiatorHandshake(conn Conn, staticKey noise.DHKey, ourPayload HandshakePayload, onRemotePayload func(HandshakePayload, []byte) error) (cipherPair, error) {
	hs, err := newHandshake(true, staticKey, nil)
	if err != nil {
		return cipherPair{}, err
	}

	msg1, _, _, err := hs.hs.WriteMessage(nil, nil)
	if err != nil {
		return cipherPair{}, fmt.Errorf("network: writing handshake message 1: %w", err)
	}
	if err := conn.WriteFrame(msg1); err != nil {
		return cipherPair{}, err
	}

	frame2, err := conn.ReadFrame()
	if err != nil {
		return cipherPair{}, err
	}
	payload2, _, _, err := hs.hs.ReadMessage(nil, frame2)
	if err != nil {
		return cipherPair{}, fmt.Errorf("network: reading handshake message 2: %w", err)
	}
	remotePayload, err := unmarshalPayload(payload2)
	if err != nil {
		return cipherPair{}, fmt.Errorf("network: decoding remote handshake payload: %w", err)
	}
	if err := onRemotePayload(remotePayload, hs.hs.PeerStatic()); err != nil {
		return cipherPair{}, err
	}

	ourBytes, err := marshalPayload(ourPayload)
	if err != nil {
		return cipherPair{}, err
	}
	msg3, cs1, cs2, err := hs.hs.WriteMessage(nil, ourBytes)
	if err != nil {
		return cipherPair{}, fmt.Errorf("network: writing handshake message 3: %w", err)
	}
	if err := conn.WriteFrame(msg3); err != nil {
		return cipherPair{}, err
	}
	// Initiator: cs1 encrypts outbound (tx), cs2 decrypts inbound (rx).
	return cipherPair{tx: &cipherState{cs1}, rx: &cipherState{cs2}}, nil
}

// runResponderHandshake drives the XX pattern as the accepting side.
func runResponderHandshake(conn Conn, staticKey noise.DHKey, ourPayload HandshakePayload, onRemotePayload func(HandshakePayload, []byte) error) (cipherPair, error) {
	hs, err := newHandshake(false, staticKey, nil)
	if err != nil {
		return cipherPair{}, err
	}

	frame1, err := conn.ReadFrame()
	if err != nil {
		return cipherPair{}, err
	}
	if _, _, _, err := hs.hs.ReadMessage(nil, frame1); err != nil {
		return cipherPair{}, fmt.Errorf("network: reading handshake message 1: %w", err)
	}

	ourBytes, err := marshalPayload(ourPayload)
	if err != nil {
		return cipherPair{}, err
	}
	msg2, _, _, err := hs.hs.WriteMessage(nil, ourBytes)
	if err != nil {
		return cipherPair{}, fmt.Errorf("network: writing handshake message 2: %w", err)
	}
	if err := conn.WriteFrame(msg2); err != nil {
		return cipherPair{}, err
	}

	frame3, err := conn.ReadFrame()
	if err != nil {
		return cipherPair{}, err
	}
	payload3, cs1, cs2, err := hs.hs.ReadMessage(nil, frame3)
	if err != nil {
		return cipherPair{}, fmt.Errorf("network: reading handshake message 3: %w", err)
	}
	remotePayload, err := unmarshalPayload(payload3)
	if err != nil {
		return cipherPair{}, fmt.Errorf("network: decoding remote handshake payload: %w", err)
	}
	if err := onRemotePayload(remotePayload, hs.hs.PeerStatic()); err != nil {
		return cipherPair{}, err
	}
	// Responder: cs1 decrypts inbound (rx), cs2 encrypts outbound (tx) —
	// mirrored relative to the initiator's assignment above.
	return cipherPair{tx: &cipherState{cs2}, rx: &cipherState{cs1}}, nil
}

func verifyPayloadSignature(identityPublicKey ed25519.PublicKey, networkingPublicKey []byte, payload HandshakePayload) bool {
	return verifyHandshakeSignature(identityPublicKey, networkingPublicKey, payload.Signature)
}
