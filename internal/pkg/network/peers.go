// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
)

// Conn is the minimal duplex byte-stream a peer session runs Noise frames
// over; *net.TCPConn and gorilla's *websocket.Conn (wrapped) both satisfy it
// via the adapters in transport.go.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	Close() error
}

// Peer is one established, encrypted session (spec §4.5).
type Peer struct {
	Name        string
	RoutingFor  bool // true if this peer asked us to act as its router
	send        chan message.KernelMessage
	conn        Conn
	send1, recv1 cipherPair

	mu          sync.Mutex
	lastMessage time.Time
}

type cipherPair struct {
	tx, rx *cipherState
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastMessage = time.Now()
	p.mu.Unlock()
}

func (p *Peer) LastMessage() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMessage
}

// Peers is the concurrent, eviction-bounded peer table (spec §4.5: "the
// Peers structure enforces max_peers... the peer with the smallest
// last_message is removed"). It is backed by hashicorp/golang-lru/v2, the
// same structure passthroughTable uses (passthrough.go): Add's built-in
// eviction-on-capacity tracks recency for us, and Touch re-marking a peer
// as most-recently-used on every inbound frame keeps that recency order
// equal to last_message order, so CullOldest/automatic eviction both reduce
// to the cache's own RemoveOldest instead of a hand-rolled oldest-scan.
type Peers struct {
	cache *lru.Cache[string, *Peer]
}

// NewPeers constructs a peer table bounded at maxPeers.
func NewPeers(maxPeers int) *Peers {
	c, err := lru.NewWithEvict[string, *Peer](maxPeers, func(_ string, p *Peer) {
		_ = p.conn.Close()
	})
	if err != nil {
		panic(err) // only occurs for a non-positive size, a caller bug
	}
	return &Peers{cache: c}
}

// Insert adds p, evicting the least-recently-touched peer if the table is
// at capacity. Re-inserting an existing name closes its old connection
// first rather than leaking it.
func (ps *Peers) Insert(p *Peer) {
	if existing, ok := ps.cache.Peek(p.Name); ok {
		ps.cache.Remove(existing.Name)
	}
	ps.cache.Add(p.Name, p)
}

// Get looks up a peer without affecting its recency; routing lookups
// shouldn't keep an idle peer alive just because something asked about it.
func (ps *Peers) Get(name string) (*Peer, bool) {
	return ps.cache.Peek(name)
}

// Touch marks name as most-recently-used, called alongside Peer.touch() on
// every inbound frame so the LRU's eviction order tracks last_message.
func (ps *Peers) Touch(name string) {
	ps.cache.Get(name)
}

// Remove drops name, closing its connection via the eviction callback.
func (ps *Peers) Remove(name string) {
	ps.cache.Remove(name)
}

// All returns a snapshot of every connected peer name (GetPeers, spec §6).
func (ps *Peers) All() []string {
	return ps.cache.Keys()
}

func (ps *Peers) Len() int {
	return ps.cache.Len()
}

// CullOldest drops the n peers with the smallest last_message, implementing
// the fd-manager's Cull pressure (spec §4.6: "Networking responds to Cull
// by evicting that many oldest peers"). RemoveOldest already walks the
// cache in least-recently-touched order, so this is just calling it n times.
func (ps *Peers) CullOldest(n int) []string {
	evicted := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, _, ok := ps.cache.RemoveOldest()
		if !ok {
			break
		}
		evicted = append(evicted, name)
	}
	return evicted
}
