// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"bytes"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello noise frame")
	assert.NilError(t, writeFrame(&buf, payload))
	got, err := readFrame(&buf)
	assert.NilError(t, err)
	assert.Assert(t, bytes.Equal(got, payload))
}

func TestOversizedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	err := writeFrame(&buf, make([]byte, maxFrameLen+1))
	assert.ErrorContains(t, err, "exceeds")
}

func TestKernelMessageFrameRoundTrip(t *testing.T) {
	src := address.New("node1.os", address.ProcessID{Name: "a", Package: "app", Publisher: "alice.os"})
	tgt := address.New("node2.os", address.ProcessID{Name: "b", Package: "app", Publisher: "alice.os"})
	exp := uint64(5000)
	req := message.Request{Body: []byte(`{"ping":true}`), ExpectsResponse: &exp}
	km := message.KernelMessage{ID: 42, Source: src, Target: tgt, Message: message.Message{Request: &req}}

	enc, err := encodeKernelMessageFrame(km)
	assert.NilError(t, err)

	dec, err := decodeKernelMessageFrame(enc)
	assert.NilError(t, err)
	assert.Equal(t, dec.ID, km.ID)
	assert.Equal(t, dec.Source, km.Source)
	assert.Equal(t, dec.Target, km.Target)
	assert.Assert(t, dec.Message.Request != nil)
	assert.Assert(t, bytes.Equal(dec.Message.Request.Body, req.Body))
}

func TestBlobFrameRoundTrip(t *testing.T) {
	blob := message.Blob{Mime: "text/plain", Bytes: []byte("payload")}
	enc, err := encodeBlobFrame(7, blob)
	assert.NilError(t, err)
	dec, err := decodeBlobFrame(enc)
	assert.NilError(t, err)
	assert.Equal(t, dec.ID, uint64(7))
	assert.Equal(t, dec.Mime, blob.Mime)
	assert.Assert(t, bytes.Equal(dec.Bytes, blob.Bytes))
}
