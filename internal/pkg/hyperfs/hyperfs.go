// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package hyperfs is the concrete VFS-root-adjacent storage layer the spec
// describes without implementing: "a VFS root used by all processes" and
// "a process-state blob per process id written by the `state` service"
// (spec §6, "Persisted state layout"). The actual VFS request/response
// surface (reading/writing process packages, drives) is a process bound to
// a reserved address and out of scope (spec §1); hyperfs only has to give
// the `state` service and wasm-bytes-handle resolution somewhere real to
// write bytes. A bbolt bucket holds the state blobs (compressed with zstd
// once they cross a size threshold, matching how a production KV would
// avoid bloating its single file with large payloads); an afero.Fs rooted
// at the data directory backs wasm-bytes-handle reads.
package hyperfs

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"go.etcd.io/bbolt"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
)

var bucketState = []byte("process_state")

const compressThreshold = 4096

// FS bundles the root filesystem (afero) and the state KV (bbolt).
type FS struct {
	Root afero.Fs
	db   *bbolt.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// Open roots an afero filesystem at rootDir and opens (creating if
// necessary) the state bucket in the registry's shared bbolt db.
func Open(rootDir string, db *bbolt.DB) (*FS, error) {
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	}); err != nil {
		return nil, fmt.Errorf("hyperfs: creating state bucket: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	root := afero.NewBasePathFs(afero.NewOsFs(), rootDir)
	return &FS{Root: root, db: db, enc: enc, dec: dec}, nil
}

func (f *FS) Close() {
	f.enc.Close()
	f.dec.Close()
}

// ReadWasmBytes resolves a wasm_bytes_handle (a VFS path, spec §3) to its
// bytes. Paths are rooted under the package's directory, as described by
// the layout in spec §6 ("/<package-id>/{pkg,...}/...").
func (f *FS) ReadWasmBytes(vfsPath string) ([]byte, error) {
	return afero.ReadFile(f.Root, vfsPath)
}

// Set implements state.Store.Set: compress large blobs before they land in
// bbolt, store small ones raw (a one-byte tag distinguishes the two).
func (f *FS) Set(pid address.ProcessID, blob []byte) error {
	payload := blob
	tag := byte('r')
	if len(blob) > compressThreshold {
		payload = f.enc.EncodeAll(blob, nil)
		tag = 'z'
	}
	stored := append([]byte{tag}, payload...)
	return f.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketState).Put([]byte(pid.String()), stored)
	})
}

func (f *FS) Get(pid address.ProcessID) ([]byte, bool, error) {
	var stored []byte
	err := f.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketState).Get([]byte(pid.String()))
		if v != nil {
			stored = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, nil
	}
	tag, payload := stored[0], stored[1:]
	if tag == 'z' {
		out, err := f.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, false, fmt.Errorf("hyperfs: decompressing state for %s: %w", pid, err)
		}
		return out, true, nil
	}
	return payload, true, nil
}

func (f *FS) Delete(pid address.ProcessID) error {
	return f.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketState).Delete([]byte(pid.String()))
	})
}
