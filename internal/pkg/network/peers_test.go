// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

type fakeConn struct{ closed bool }

func (f *fakeConn) ReadFrame() ([]byte, error) { return nil, nil }
func (f *fakeConn) WriteFrame([]byte) error    { return nil }
func (f *fakeConn) Close() error               { f.closed = true; return nil }

func newTestPeer(name string, last time.Time) *Peer {
	p := &Peer{Name: name, conn: &fakeConn{}}
	p.lastMessage = last
	return p
}

func TestPeersEvictsOldestOnOverflow(t *testing.T) {
	ps := NewPeers(2)
	now := time.Now()
	ps.Insert(newTestPeer("a", now.Add(-3*time.Second)))
	ps.Insert(newTestPeer("b", now.Add(-2*time.Second)))
	ps.Insert(newTestPeer("c", now.Add(-1*time.Second)))

	assert.Equal(t, ps.Len(), 2)
	_, hasA := ps.Get("a")
	assert.Assert(t, !hasA)
	_, hasC := ps.Get("c")
	assert.Assert(t, hasC)
}

func TestCullOldestRemovesNOldest(t *testing.T) {
	ps := NewPeers(10)
	now := time.Now()
	ps.Insert(newTestPeer("a", now.Add(-3*time.Second)))
	ps.Insert(newTestPeer("b", now.Add(-2*time.Second)))
	ps.Insert(newTestPeer("c", now.Add(-1*time.Second)))

	evicted := ps.CullOldest(2)
	assert.Equal(t, len(evicted), 2)
	assert.Equal(t, ps.Len(), 1)
	_, hasC := ps.Get("c")
	assert.Assert(t, hasC)
}

func TestRemoveClosesConn(t *testing.T) {
	ps := NewPeers(10)
	conn := &fakeConn{}
	p := &Peer{Name: "a", conn: conn}
	ps.Insert(p)
	ps.Remove("a")
	assert.Assert(t, conn.closed)
}
