// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package keyfile

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestNewDecryptRoundTrip(t *testing.T) {
	passwordHash := []byte("a-password-hash-of-fixed-length")
	kf, enc, err := New("alice.os", []string{"router1.os"}, []byte("netkey-bytes"), []byte("jwt-secret"), []byte("file-key-bytes"), passwordHash)
	assert.NilError(t, err)

	got, err := enc.Decrypt(passwordHash)
	assert.NilError(t, err)
	assert.Equal(t, got.Username, kf.Username)
	assert.Assert(t, bytes.Equal(got.NetworkingKey, kf.NetworkingKey))
	assert.Assert(t, bytes.Equal(got.JWTSecret, kf.JWTSecret))
	assert.Assert(t, bytes.Equal(got.FileKey, kf.FileKey))
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	_, enc, err := New("alice.os", nil, []byte("netkey"), []byte("jwt"), []byte("filekey"), []byte("correct-hash"))
	assert.NilError(t, err)

	_, err = enc.Decrypt([]byte("wrong-hash-entirely"))
	assert.ErrorContains(t, err, "wrong password")
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	passwordHash := []byte("hash")
	_, enc, err := New("bob.os", []string{"r1.os", "r2.os"}, []byte("n"), []byte("j"), []byte("f"), passwordHash)
	assert.NilError(t, err)

	b := enc.Marshal()
	got, err := Unmarshal(b)
	assert.NilError(t, err)
	assert.Equal(t, got.Username, enc.Username)
	assert.DeepEqual(t, got.Routers, enc.Routers)
	assert.Assert(t, bytes.Equal(got.EncNetKey, enc.EncNetKey))
	assert.Assert(t, got.Salt == enc.Salt)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	passwordHash := []byte("hash")
	_, enc, err := New("carol.os", nil, []byte("n"), []byte("j"), []byte("f"), passwordHash)
	assert.NilError(t, err)

	path := filepath.Join(t.TempDir(), "keyfile")
	assert.NilError(t, Save(path, enc))

	loaded, err := Load(path)
	assert.NilError(t, err)
	dec, err := loaded.Decrypt(passwordHash)
	assert.NilError(t, err)
	assert.Equal(t, dec.Username, "carol.os")
}

func TestLockedRejectsSecondLock(t *testing.T) {
	dir := t.TempDir()
	firstErr := make(chan error, 1)
	go func() {
		firstErr <- Locked(dir, func() error {
			<-time.After(200 * time.Millisecond)
			return nil
		})
	}()
	time.Sleep(50 * time.Millisecond)
	err := Locked(dir, func() error { return nil })
	assert.ErrorContains(t, err, "already locked")
	assert.NilError(t, <-firstErr)
}

// Known ENS namehash vectors (eth.ens.domains semantics): the empty name
// hashes to the zero node, and "eth" matches the well-known ENS constant.
func TestNamehashKnownVectors(t *testing.T) {
	zero := Namehash("")
	var want [32]byte
	assert.Assert(t, zero == want)

	h1 := Namehash("eth")
	h2 := Namehash("eth")
	assert.Assert(t, h1 == h2)
	assert.Assert(t, h1 != want)
	assert.Equal(t, hex.EncodeToString(h1[:]), "93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae")
}
