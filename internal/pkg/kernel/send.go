// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package kernel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// Send accepts a fully-formed KernelMessage and routes it per spec §4.1:
//  1. local process inbox (or synthesized Offline/drop if it doesn't exist)
//  2. a runtime service's Handle
//  3. the networking task, for a remote target
//
// It never blocks longer than the target channel's capacity; on Full it
// synthesizes an Offline response back to the message's reply-to address.
func (b *Bus) Send(ctx context.Context, km message.KernelMessage) error {
	if km.Message.Inherit() && km.Rsvp == nil {
		return &message.Malformed{Reason: "inherit=true with no rsvp on the inbound message"}
	}

	km.Message = km.Message.WithCapabilities(
		b.caps.Validate(b.ourNode, km.Target.ProcessID, b.signer, km.Message.Capabilities()),
	)

	if req := km.Message.Request; req != nil && req.ExpectsResponse != nil {
		if km.Rsvp == nil {
			src := km.Source
			km.Rsvp = &src
		}
	}

	delivered := true
	if km.Target.Node == b.ourNode {
		delivered = b.sendLocal(km)
	} else if err := b.net.Send(ctx, km); err != nil {
		b.failDelivery(km)
		return err
	}

	// Only arm a timeout when the request is still in flight: a local
	// delivery failure already resolved the request synchronously via a
	// synthesized Offline response, and arming a timer on top of that
	// would violate "exactly one Response per request" (spec §8).
	if delivered {
		if req := km.Message.Request; req != nil && req.ExpectsResponse != nil {
			b.armTimer(km, *req.ExpectsResponse)
		}
	}
	if km.Message.Response != nil {
		b.cancelTimer(km.ID, km.Target)
	}
	return nil
}

// SendAll fans kms out concurrently via an errgroup and waits for every one
// to be routed, returning the first error encountered. Used where a single
// event produces several independent KernelMessages with no ordering
// requirement between them (e.g. a process's on_exit=Requests death
// notifications, which may target several different processes/nodes) —
// sending them one at a time would serialize on each target's network
// round-trip or channel send for no reason.
func (b *Bus) SendAll(ctx context.Context, kms []message.KernelMessage) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, km := range kms {
		km := km
		g.Go(func() error {
			return b.Send(gctx, km)
		})
	}
	return g.Wait()
}

// sendLocal implements routing rule 1 (spec §4.1). It reports whether the
// message was actually handed off (false means a synthesized Offline
// response already resolved it and no timeout should be armed).
func (b *Bus) sendLocal(km message.KernelMessage) bool {
	var (
		proc    *Process
		runtime RuntimeService
		found   bool
	)
	b.run(func() {
		proc, found = b.processes[km.Target.ProcessID]
		if !found {
			runtime = b.runtimes[km.Target.ProcessID]
		}
	})

	switch {
	case found:
		if !proc.Public && km.Message.IsRequest() {
			if !b.caps.HasMessaging(km.Source.ProcessID, km.Target) && km.Source.ProcessID != km.Target.ProcessID {
				b.failDelivery(km)
				return false
			}
		}
		select {
		case proc.Inbox <- km:
			return true
		default:
			sylog.Warningf("inbox full, dropping into backpressure error: target=%s", km.Target)
			b.failDelivery(km)
			return false
		}
	case runtime != nil:
		runtime.Handle(km)
		return true
	default:
		b.failDelivery(km)
		return false
	}
}

// failDelivery implements §4.1(b)/(c): synthesize Offline if a Response
// was expected, else drop silently at verbosity 2.
func (b *Bus) failDelivery(km message.KernelMessage) {
	req := km.Message.Request
	if req == nil || req.ExpectsResponse == nil {
		sylog.Verbosef("dropping undeliverable message: target=%s id=%d", km.Target, km.ID)
		return
	}
	resp := message.SynthesizeResponse(km, message.SendErrorOffline, address.ReservedAt(b.ourNode, address.ProcessKernel))
	b.deliverSynthesized(resp)
}

// deliverSynthesized routes a bus-generated Response without re-entering
// the full validation/timer pipeline (it is never itself subject to a
// timeout or capability check — it originates from "kernel").
func (b *Bus) deliverSynthesized(resp message.KernelMessage) {
	if resp.Target.Node != b.ourNode {
		_ = b.net.Send(context.Background(), resp)
		return
	}
	b.cancelTimer(resp.ID, resp.Target)
	var proc *Process
	var found bool
	b.run(func() {
		proc, found = b.processes[resp.Target.ProcessID]
	})
	if !found {
		sylog.Verbosef("dropping synthesized response: target %s no longer exists", resp.Target)
		return
	}
	select {
	case proc.Inbox <- resp:
	default:
		sylog.Warningf("inbox full for synthesized response: target=%s", resp.Target)
	}
}
