// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package identity

import "crypto/ed25519"

// KeySigner implements capability.Signer over a node's own Ed25519 networking
// keypair, verifying remote signatures against whatever this PKI cache
// knows about the claimed signer's node (spec §3, §4.2: "signed envelope
// whose signature verifies against the issuer's node's public key per the
// PKI"). It is defined here, not in internal/pkg/capability, so that
// package stays free of any concrete keypair or PKI dependency.
type KeySigner struct {
	ourName string
	priv    ed25519.PrivateKey
	pki     PKI
}

// NewKeySigner binds ourName's own private key (decrypted from the
// keyfile, spec §4.8) and a PKI for resolving everyone else's public key.
func NewKeySigner(ourName string, priv ed25519.PrivateKey, pki PKI) *KeySigner {
	return &KeySigner{ourName: ourName, priv: priv, pki: pki}
}

// SignNode signs msg with our own node keypair.
func (s *KeySigner) SignNode(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// VerifyNode verifies sig over msg against nodeName's known public key:
// our own key if nodeName is us, else whatever the PKI has cached.
func (s *KeySigner) VerifyNode(nodeName string, msg, sig []byte) bool {
	if nodeName == s.ourName {
		return ed25519.Verify(s.priv.Public().(ed25519.PublicKey), msg, sig)
	}
	id, ok := s.pki.Lookup(nodeName)
	if !ok || len(id.NetworkingPublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(id.NetworkingPublicKey), msg, sig)
}
