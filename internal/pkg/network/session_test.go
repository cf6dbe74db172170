// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"

	"github.com/flynn/noise"
	"gotest.tools/v3/assert"
)

func genStatic(t *testing.T) noise.DHKey {
	t.Helper()
	k, err := noise.DH25519.GenerateKeypair(rand.Reader)
	assert.NilError(t, err)
	return k
}

// TestHandshakeRoundTripDerivesMatchingCiphers drives the XX pattern over
// an in-memory pipe and checks that the initiator's tx key decrypts under
// the responder's rx key, and vice versa (spec §4.5 step 3).
func TestHandshakeRoundTripDerivesMatchingCiphers(t *testing.T) {
	initiatorIdentityPub, initiatorIdentityPriv, err := ed25519.GenerateKey(nil)
	assert.NilError(t, err)
	responderIdentityPub, responderIdentityPriv, err := ed25519.GenerateKey(nil)
	assert.NilError(t, err)

	initiatorStatic := genStatic(t)
	responderStatic := genStatic(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type result struct {
		cp  cipherPair
		err error
	}
	initCh := make(chan result, 1)
	respCh := make(chan result, 1)

	go func() {
		payload := HandshakePayload{ProtocolVersion: protocolVersion, Name: "initiator.os", Signature: signHandshake(initiatorIdentityPriv, initiatorStatic.Public)}
		cp, err := runInitiatorHandshake(newTCPConn(a), initiatorStatic, payload, func(p HandshakePayload, peerStatic []byte) error {
			if !verifyPayloadSignature(responderIdentityPub, peerStatic, p) {
				t.Error("responder signature did not verify")
			}
			return nil
		})
		initCh <- result{cp, err}
	}()
	go func() {
		payload := HandshakePayload{ProtocolVersion: protocolVersion, Name: "responder.os", Signature: signHandshake(responderIdentityPriv, responderStatic.Public)}
		cp, err := runResponderHandshake(newTCPConn(b), responderStatic, payload, func(p HandshakePayload, peerStatic []byte) error {
			if !verifyPayloadSignature(initiatorIdentityPub, peerStatic, p) {
				t.Error("initiator signature did not verify")
			}
			return nil
		})
		respCh <- result{cp, err}
	}()

	initRes := <-initCh
	respRes := <-respCh
	assert.NilError(t, initRes.err)
	assert.NilError(t, respRes.err)

	plaintext := []byte("hello across the noise session")
	ciphertext := initRes.cp.tx.encrypt(nil, plaintext)
	got, err := respRes.cp.rx.decrypt(nil, ciphertext)
	assert.NilError(t, err)
	assert.Equal(t, string(got), string(plaintext))
}
