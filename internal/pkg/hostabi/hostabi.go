// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package hostabi mediates between a running process's host calls and the
// kernel bus (spec §4.4). Each process is single-threaded cooperative: only
// one host call is in flight at a time, and the process suspends at every
// receive() or send_and_await_response() (spec §5). Host's per-process
// pending-response map and inbox are exactly the suspension points.
package hostabi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/capability"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernel"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/state"
)

// Host is the per-process handle the WASM engine trait (spec §1) uses to
// translate guest host-calls into kernel messages. One Host exists per
// running process.
type Host struct {
	self address.Address
	bus  *kernel.Bus
	caps *capability.Store
	st   state.Store

	inbox chan message.KernelMessage

	mu      sync.Mutex
	current *message.KernelMessage // the message receive() most recently yielded
	pending map[uint64]chan message.KernelMessage
	blob    *message.Blob
}

// New constructs a Host bound to self, wired to bus/caps/state. inbox is
// the channel the bus was given via RegisterProcess for this address.
func New(self address.Address, bus *kernel.Bus, caps *capability.Store, st state.Store, inbox chan message.KernelMessage) *Host {
	return &Host{
		self:    self,
		bus:     bus,
		caps:    caps,
		st:      st,
		inbox:   inbox,
		pending: make(map[uint64]chan message.KernelMessage),
	}
}

// Receive blocks until the inbox yields a message, or ctx is cancelled.
// This is the ABI's receive() suspension point (spec §4.4).
func (h *Host) Receive(ctx context.Context) (address.Address, message.Message, error) {
	select {
	case km, ok := <-h.inbox:
		if !ok {
			return address.Address{}, message.Message{}, fmt.Errorf("hostabi: inbox closed for %s", h.self)
		}
		if ch, waiting := h.takePending(km.ID); waiting {
			ch <- km
			return h.Receive(ctx) // resolved a pending await; keep waiting for the next inbound message
		}
		h.mu.Lock()
		h.current = &km
		h.blob = km.LazyLoadBlob
		h.mu.Unlock()
		return km.Source, km.Message, nil
	case <-ctx.Done():
		return address.Address{}, message.Message{}, ctx.Err()
	}
}

func (h *Host) takePending(id uint64) (chan message.KernelMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	return ch, ok
}

// GetBlob returns the current message's lazy-load blob, if any.
func (h *Host) GetBlob() *message.Blob {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blob
}

// SendRequest allocates an id (or, when req.Inherit is set, reuses the
// currently-handled message's id/rsvp — spec §4.1's delegation mechanism)
// and hands a Request KernelMessage to the bus.
func (h *Host) SendRequest(ctx context.Context, target address.Address, req message.Request, blob *message.Blob) (uint64, error) {
	km := message.KernelMessage{
		Source:       h.self,
		Target:       target,
		Message:      message.Message{Request: &req},
		LazyLoadBlob: blob,
	}

	if req.Inherit {
		h.mu.Lock()
		cur := h.current
		h.mu.Unlock()
		if cur == nil || cur.Rsvp == nil {
			return 0, &message.Malformed{Reason: "inherit=true with no current message rsvp"}
		}
		km.ID = cur.ID
		km.Rsvp = cur.Rsvp
	} else {
		km.ID = h.bus.NextID()
	}

	if err := h.bus.Send(ctx, km); err != nil {
		return 0, err
	}
	return km.ID, nil
}

// SendResponse pairs resp with the message currently being handled
// (spec §4.4).
func (h *Host) SendResponse(ctx context.Context, resp message.Response, blob *message.Blob) error {
	h.mu.Lock()
	cur := h.current
	h.mu.Unlock()
	if cur == nil {
		return fmt.Errorf("hostabi: send_response with no current request")
	}
	km := message.KernelMessage{
		ID:           cur.ID,
		Source:       h.self,
		Target:       cur.ReplyTo(),
		Message:      message.Message{Response: &resp},
		LazyLoadBlob: blob,
	}
	return h.bus.Send(ctx, km)
}

// SendAndAwaitResponse is syntactic sugar: allocate id, register a one-shot
// reply channel, send, await with a timeout (spec §9's recommended
// implementation). It must not block the outer executor — only this
// process's own goroutine blocks.
func (h *Host) SendAndAwaitResponse(ctx context.Context, target address.Address, req message.Request, blob *message.Blob, timeout time.Duration) (message.Response, error) {
	ms := uint64(timeout / time.Millisecond)
	req.ExpectsResponse = &ms

	km := message.KernelMessage{
		Source:       h.self,
		Target:       target,
		ID:           h.bus.NextID(),
		Message:      message.Message{Request: &req},
		LazyLoadBlob: blob,
	}

	ch := make(chan message.KernelMessage, 1)
	h.mu.Lock()
	h.pending[km.ID] = ch
	h.mu.Unlock()

	if err := h.bus.Send(ctx, km); err != nil {
		h.mu.Lock()
		delete(h.pending, km.ID)
		h.mu.Unlock()
		return message.Response{}, err
	}

	select {
	case got := <-ch:
		if got.Message.Response == nil {
			return message.Response{}, fmt.Errorf("hostabi: expected response, got request")
		}
		return *got.Message.Response, nil
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, km.ID)
		h.mu.Unlock()
		return message.Response{}, ctx.Err()
	}
}

// Cancel resolves every outstanding SendAndAwaitResponse with a synthesized
// Offline SendError before the host task aborts (spec §4.4's cancellation
// contract) — guest-side deferred cleanup gets a chance to run on this
// synthesized error, nothing more is guaranteed.
func (h *Host) Cancel() {
	h.mu.Lock()
	pending := h.pending
	h.pending = make(map[uint64]chan message.KernelMessage)
	h.mu.Unlock()

	for id, ch := range pending {
		resp := message.SynthesizeResponse(message.KernelMessage{ID: id, Source: h.self, Target: h.self}, message.SendErrorOffline, h.self)
		select {
		case ch <- resp:
		default:
		}
	}
}

// SetState / GetState persist the process-local blob directly through the
// Host's state.Store (spec §4.4, §6), not through a bus-routed `state`
// service. They survive a Restart by construction
// (SPEC_FULL.md §3's resolved open question).
func (h *Host) SetState(b []byte) error {
	return h.st.Set(h.self.ProcessID, b)
}

func (h *Host) GetState() ([]byte, bool, error) {
	return h.st.Get(h.self.ProcessID)
}

// HasCapability / OurCapabilities expose the capability store to the guest
// (spec §4.4). Host has no call that saves capabilities into the store.
func (h *Host) HasCapability(cap message.Capability) bool {
	return h.caps.Has(h.self.ProcessID, cap)
}

func (h *Host) OurCapabilities() []message.Capability {
	return h.caps.Snapshot(h.self.ProcessID)
}
