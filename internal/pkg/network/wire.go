// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
)

// maxFrameLen bounds a single length-prefixed frame to 1 MiB. Queue
// backpressure is a separate bound (kernel.InboxCapacity).
const maxFrameLen = 1 << 20

// wireMessage is the msgpack-serialized form of a KernelMessage minus its
// lazy-load blob (spec §6: "decrypted payload is a msgpack-serialized
// KernelMessage minus the lazy-load blob"). Blobs travel as a follow-up
// frame tagged by id (wireBlob).
type wireMessage struct {
	ID      uint64             `msgpack:"id"`
	Source  string             `msgpack:"source"`
	Target  string             `msgpack:"target"`
	Rsvp    string             `msgpack:"rsvp,omitempty"`
	Message message.Message    `msgpack:"message"`
}

type wireBlob struct {
	ID   uint64 `msgpack:"id"`
	Mime string `msgpack:"mime,omitempty"`
	Bytes []byte `msgpack:"bytes"`
}

// writeFrame writes len(4-be) || payload to w (spec §6's wire format).
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameLen {
		return fmt.Errorf("network: frame of %d bytes exceeds %d byte bound", len(payload), maxFrameLen)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one len(4-be)||payload frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("network: incoming frame of %d bytes exceeds %d byte bound", n, maxFrameLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeKernelMessageFrame(km message.KernelMessage) ([]byte, error) {
	wm := wireMessage{ID: km.ID, Source: km.Source.String(), Target: km.Target.String(), Message: km.Message}
	if km.Rsvp != nil {
		wm.Rsvp = km.Rsvp.String()
	}
	return msgpack.Marshal(wm)
}

func decodeKernelMessageFrame(b []byte) (message.KernelMessage, error) {
	var wm wireMessage
	if err := msgpack.Unmarshal(b, &wm); err != nil {
		return message.KernelMessage{}, err
	}
	source, err := address.Parse(wm.Source)
	if err != nil {
		return message.KernelMessage{}, fmt.Errorf("network: decoding source address: %w", err)
	}
	target, err := address.Parse(wm.Target)
	if err != nil {
		return message.KernelMessage{}, fmt.Errorf("network: decoding target address: %w", err)
	}
	km := message.KernelMessage{ID: wm.ID, Source: source, Target: target, Message: wm.Message}
	if wm.Rsvp != "" {
		rsvp, err := address.Parse(wm.Rsvp)
		if err != nil {
			return message.KernelMessage{}, fmt.Errorf("network: decoding rsvp address: %w", err)
		}
		km.Rsvp = &rsvp
	}
	return km, nil
}

func encodeBlobFrame(id uint64, blob message.Blob) ([]byte, error) {
	return msgpack.Marshal(wireBlob{ID: id, Mime: blob.Mime, Bytes: blob.Bytes})
}

func decodeBlobFrame(b []byte) (wireBlob, error) {
	var wb wireBlob
	err := msgpack.Unmarshal(b, &wb)
	return wb, err
}
