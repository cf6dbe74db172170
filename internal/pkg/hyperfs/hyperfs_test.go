// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package hyperfs

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"go.etcd.io/bbolt"
	"gotest.tools/v3/assert"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	db, err := bbolt.Open(filepath.Join(dir, "state.db"), 0o600, nil)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	fs, err := Open(dir, db)
	assert.NilError(t, err)
	t.Cleanup(fs.Close)
	return fs
}

func testPID(name string) address.ProcessID {
	return address.ProcessID{Name: name, Package: "app", Publisher: "alice.os"}
}

func TestSetGetSmallBlobRoundTrip(t *testing.T) {
	fs := newTestFS(t)
	pid := testPID("p1")
	want := []byte("small state blob")
	assert.NilError(t, fs.Set(pid, want))

	got, ok, err := fs.Get(pid)
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Assert(t, bytes.Equal(got, want))
}

func TestSetGetLargeBlobCompressed(t *testing.T) {
	fs := newTestFS(t)
	pid := testPID("p2")
	want := bytes.Repeat([]byte("abcdefgh"), compressThreshold)

	assert.NilError(t, fs.Set(pid, want))
	got, ok, err := fs.Get(pid)
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Assert(t, bytes.Equal(got, want))
}

func TestGetMissingReturnsFalse(t *testing.T) {
	fs := newTestFS(t)
	_, ok, err := fs.Get(testPID("nope"))
	assert.NilError(t, err)
	assert.Assert(t, !ok)
}

func TestDeleteRemovesBlob(t *testing.T) {
	fs := newTestFS(t)
	pid := testPID("p3")
	assert.NilError(t, fs.Set(pid, []byte("x")))
	assert.NilError(t, fs.Delete(pid))
	_, ok, err := fs.Get(pid)
	assert.NilError(t, err)
	assert.Assert(t, !ok)
}

func TestReadWasmBytesRootedAtDataDir(t *testing.T) {
	fs := newTestFS(t)
	assert.NilError(t, afero.WriteFile(fs.Root, "/pkg/app.wasm", []byte("\x00asm"), 0o644))
	got, err := fs.ReadWasmBytes("/pkg/app.wasm")
	assert.NilError(t, err)
	assert.Assert(t, bytes.Equal(got, []byte("\x00asm")))
}
