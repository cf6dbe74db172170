// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// passthrough binds two raw sockets together, forwarding encrypted Noise
// frames between an initiator and a target without decrypting them
// (spec §4.5's routed handshake: "the router then holds open a
// Passthrough"). It counts against the router's max_passthroughs; its
// sockets are not reported to the fd-manager.
type passthrough struct {
	initiatorName, targetName string
	a, b                      Conn
}

func pump(dst, src Conn, done chan<- error) {
	for {
		frame, err := src.ReadFrame()
		if err != nil {
			done <- err
			return
		}
		if err := dst.WriteFrame(frame); err != nil {
			done <- err
			return
		}
	}
}

func (p *passthrough) run() {
	done := make(chan error, 2)
	go pump(p.b, p.a, done)
	go pump(p.a, p.b, done)
	err := <-done
	if err != nil && err != io.EOF {
		sylog.Verbosef("network: passthrough %s<->%s closed: %v", p.initiatorName, p.targetName, err)
	}
	_ = p.a.Close()
	_ = p.b.Close()
}

// passthroughTable tracks live passthroughs per router, bounded by
// max_passthroughs (spec §4.5). Using a bounded LRU gives free eviction of
// the least-recently-touched passthrough instead of a hand-rolled ring
// buffer.
type passthroughTable struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *passthrough]
}

func newPassthroughTable(maxPassthroughs int) *passthroughTable {
	c, err := lru.NewWithEvict[string, *passthrough](maxPassthroughs, func(_ string, p *passthrough) {
		_ = p.a.Close()
		_ = p.b.Close()
	})
	if err != nil {
		panic(err) // only occurs for a non-positive size, a caller bug
	}
	return &passthroughTable{cache: c}
}

func (t *passthroughTable) key(initiator, target string) string { return initiator + "->" + target }

// Add registers a new passthrough and starts pumping frames in both
// directions; evicting an existing entry at capacity closes its sockets.
func (t *passthroughTable) Add(initiator, target string, p *passthrough) {
	t.mu.Lock()
	t.cache.Add(t.key(initiator, target), p)
	t.mu.Unlock()
	go p.run()
}

func (t *passthroughTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

func (t *passthroughTable) Remove(initiator, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(t.key(initiator, target))
}
