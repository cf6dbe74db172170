// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package keyfile implements the persistent on-disk identity artifact
// (spec §4.8): username, routers, salt, and three AES-256-GCM encrypted
// secrets (networking keypair, JWT secret, file key), all derived from a
// PBKDF2-HMAC-SHA256 stretch of the user's password hash. The directory
// holding the keyfile is locked with gofrs/flock for the duration of a
// read or write, matching the teacher's habit of guarding its data
// directory against a second instance starting against the same path.
package keyfile

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const (
	pbkdf2Iterations = 1_000_000
	keyLen           = 32 // AES-256
	nonceLen         = 12
	saltLen          = 32
)

// Keyfile is the decrypted, in-memory form of the on-disk artifact
// (spec §4.8, §6: "(username, routers, salt, enc_netkey, enc_jwt,
// enc_filekey)").
type Keyfile struct {
	Username        string
	Routers         []string
	NetworkingKey   []byte // decrypted Ed25519/Noise seed material
	JWTSecret       []byte
	FileKey         []byte
}

// Encrypted is the persisted, still-sealed form.
type Encrypted struct {
	Username      string
	Routers       []string
	Salt          [saltLen]byte
	EncNetKey     []byte // nonce(12) || ciphertext
	EncJWT        []byte
	EncFileKey    []byte
}

// deriveKey stretches passwordHash (already hashed client-side, per the
// spec's "password-hash") with PBKDF2-HMAC-SHA256 over the stored salt.
func deriveKey(passwordHash []byte, salt [saltLen]byte) []byte {
	return pbkdf2.Key(passwordHash, salt[:], pbkdf2Iterations, keyLen, sha256.New)
}

func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

func open(key, nonceAndCiphertext []byte) ([]byte, error) {
	if len(nonceAndCiphertext) < nonceLen {
		return nil, fmt.Errorf("keyfile: ciphertext shorter than nonce")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := nonceAndCiphertext[:nonceLen], nonceAndCiphertext[nonceLen:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// New encrypts a fresh Keyfile under a key derived from passwordHash, with
// a freshly generated salt.
func New(username string, routers []string, networkingKey, jwtSecret, fileKey, passwordHash []byte) (*Keyfile, *Encrypted, error) {
	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, nil, err
	}
	key := deriveKey(passwordHash, salt)

	encNet, err := seal(key, networkingKey)
	if err != nil {
		return nil, nil, err
	}
	encJWT, err := seal(key, jwtSecret)
	if err != nil {
		return nil, nil, err
	}
	encFile, err := seal(key, fileKey)
	if err != nil {
		return nil, nil, err
	}

	return &Keyfile{Username: username, Routers: routers, NetworkingKey: networkingKey, JWTSecret: jwtSecret, FileKey: fileKey},
		&Encrypted{Username: username, Routers: routers, Salt: salt, EncNetKey: encNet, EncJWT: encJWT, EncFileKey: encFile},
		nil
}

// Decrypt recovers a Keyfile from its Encrypted on-disk form given the
// user's password hash.
func (e *Encrypted) Decrypt(passwordHash []byte) (*Keyfile, error) {
	key := deriveKey(passwordHash, e.Salt)
	net, err := open(key, e.EncNetKey)
	if err != nil {
		return nil, fmt.Errorf("keyfile: wrong password or corrupt networking key: %w", err)
	}
	jwt, err := open(key, e.EncJWT)
	if err != nil {
		return nil, fmt.Errorf("keyfile: wrong password or corrupt jwt secret: %w", err)
	}
	fileKey, err := open(key, e.EncFileKey)
	if err != nil {
		return nil, fmt.Errorf("keyfile: wrong password or corrupt file key: %w", err)
	}
	return &Keyfile{Username: e.Username, Routers: e.Routers, NetworkingKey: net, JWTSecret: jwt, FileKey: fileKey}, nil
}

// Namehash computes the ENS-style namehash (spec §4.8): successive
// keccak256 of reversed dotted labels, starting from a 32-byte zero node.
func Namehash(name string) [32]byte {
	var node [32]byte // zero node
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := sha3.NewLegacyKeccak256()
		labelHash.Write([]byte(labels[i]))
		var lh [32]byte
		labelHash.Sum(lh[:0])

		h := sha3.NewLegacyKeccak256()
		h.Write(node[:])
		h.Write(lh[:])
		h.Sum(node[:0])
	}
	return node
}

// --- bincode-equivalent tuple encoding -------------------------------------
//
// The original keyfile is a bincode-serialized Rust tuple. Go has no
// bincode library in this pack's dependency set, so the on-disk layout here
// is a length-prefixed field sequence in the same field order — the
// closest structurally-equivalent encoding without inventing a dependency.

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Marshal encodes e as the persisted tuple (spec §6).
func (e *Encrypted) Marshal() []byte {
	var buf bytes.Buffer
	writeBytes(&buf, []byte(e.Username))
	var routers bytes.Buffer
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(e.Routers)))
	routers.Write(countBuf[:])
	for _, r := range e.Routers {
		writeBytes(&routers, []byte(r))
	}
	writeBytes(&buf, routers.Bytes())
	writeBytes(&buf, e.Salt[:])
	writeBytes(&buf, e.EncNetKey)
	writeBytes(&buf, e.EncJWT)
	writeBytes(&buf, e.EncFileKey)
	return buf.Bytes()
}

// Unmarshal decodes the tuple encoding produced by Marshal.
func Unmarshal(b []byte) (*Encrypted, error) {
	r := bytes.NewReader(b)
	username, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	routersBytes, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	rr := bytes.NewReader(routersBytes)
	var countBuf [8]byte
	if _, err := io.ReadFull(rr, countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint64(countBuf[:])
	routers := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		rb, err := readBytes(rr)
		if err != nil {
			return nil, err
		}
		routers = append(routers, string(rb))
	}
	salt, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	netKey, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	jwt, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	fileKey, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	e := &Encrypted{Username: string(username), Routers: routers, EncNetKey: netKey, EncJWT: jwt, EncFileKey: fileKey}
	copy(e.Salt[:], salt)
	return e, nil
}

// --- directory locking -----------------------------------------------------

// Locked runs fn while holding an exclusive lock on dir's keyfile lock,
// guarding against a second instance starting against the same data
// directory.
func Locked(dir string, fn func() error) error {
	lockPath := filepath.Join(dir, ".keyfile.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("keyfile: locking %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("keyfile: %s is already locked by another instance", dir)
	}
	defer fl.Unlock()
	return fn()
}

// Load reads and decodes the keyfile at path.
func Load(path string) (*Encrypted, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}

// Save encodes and writes e to path.
func Save(path string, e *Encrypted) error {
	return os.WriteFile(path, e.Marshal(), 0o600)
}
