// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package fdmanager

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/capability"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernel"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
)

type nullNet struct{}

func (nullNet) Send(ctx context.Context, km message.KernelMessage) error { return nil }

type nullSigner struct{}

func (nullSigner) SignNode(msg []byte) []byte                   { return nil }
func (nullSigner) VerifyNode(node string, msg, sig []byte) bool { return false }

func newTestManager(t *testing.T) (*Manager, *kernel.Bus, chan message.KernelMessage, address.ProcessID) {
	t.Helper()
	ourNode := "node1.os"
	caps := capability.New()
	bus := kernel.New(ourNode, caps, nullNet{}, nullSigner{})
	t.Cleanup(bus.Stop)

	holder := address.ProcessID{Name: "net", Package: "distro", Publisher: "sys"}
	inbox := make(chan message.KernelMessage, 8)
	bus.RegisterProcess(holder, inbox, true)

	self := address.ReservedAt(ourNode, address.ProcessFdManager)
	m := New(self, bus)
	m.mu.Lock()
	m.ulimit = 100
	m.max = Limit{Static: uint64Ptr(10)}
	m.cullFractionDenom = 2
	m.mu.Unlock()
	bus.RegisterRuntimeService(self.ProcessID, m)

	return m, bus, inbox, holder
}

func send(t *testing.T, bus *kernel.Bus, from, to address.Address, body Request) {
	t.Helper()
	b, err := json.Marshal(body)
	assert.NilError(t, err)
	req := message.Request{Body: b}
	km := message.KernelMessage{ID: bus.NextID(), Source: from, Target: to, Message: message.Message{Request: &req}}
	assert.NilError(t, bus.Send(context.Background(), km))
}

func TestOpenCloseFdsTracksTotal(t *testing.T) {
	m, bus, _, holder := newTestManager(t)
	self := address.ReservedAt("node1.os", address.ProcessFdManager)
	holderAddr := address.New("node1.os", holder)

	n := uint64(3)
	send(t, bus, holderAddr, self, Request{OpenFds: &n})
	assert.Equal(t, m.Total(), uint64(3))

	c := uint64(1)
	send(t, bus, holderAddr, self, Request{CloseFds: &c})
	assert.Equal(t, m.Total(), uint64(2))
}

func TestBudgetExceededTriggersCull(t *testing.T) {
	m, bus, inbox, holder := newTestManager(t)
	self := address.ReservedAt("node1.os", address.ProcessFdManager)
	holderAddr := address.New("node1.os", holder)

	n := uint64(20) // exceeds the static max=10 set in newTestManager
	send(t, bus, holderAddr, self, Request{OpenFds: &n})

	select {
	case km := <-inbox:
		var body CullRequest
		assert.NilError(t, json.Unmarshal(km.Message.Request.Body, &body))
		assert.Equal(t, body.Cull, uint64(2))
	case <-time.After(time.Second):
		t.Fatal("expected a Cull request")
	}
}

func TestUnderBudgetNoCull(t *testing.T) {
	_, bus, inbox, holder := newTestManager(t)
	self := address.ReservedAt("node1.os", address.ProcessFdManager)
	holderAddr := address.New("node1.os", holder)

	n := uint64(1)
	send(t, bus, holderAddr, self, Request{OpenFds: &n})

	select {
	case <-inbox:
		t.Fatal("did not expect a Cull request under budget")
	case <-time.After(100 * time.Millisecond):
	}
}
