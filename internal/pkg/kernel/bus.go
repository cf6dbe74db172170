// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package kernel implements the message bus (spec §4.1): the single point
// through which every KernelMessage passes, whether it is headed to a
// local process inbox, the networking task, or a runtime service. It owns
// rsvp rewriting, per-request timeout arming, and capability-attachment
// validation. Mutation of the process registry is single-writer by
// construction: every call funnels through cmds, a command channel drained
// by one goroutine (spec §9's "push all mutations through a command
// channel", not a lock-protected map shared across tasks).
package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/capability"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// InboxCapacity bounds every process and peer queue (spec §9 open
// question, resolved in SPEC_FULL.md §3): overflow synthesizes Offline
// rather than blocking the kernel loop.
const InboxCapacity = 1024

// Networker hands an outbound KernelMessage to the networking subsystem
// (§4.5) for an address on a remote node. It returns an error only when the
// message could not even be queued (e.g. unknown peer) — the bus turns
// that into a synthesized SendError.
type Networker interface {
	Send(ctx context.Context, km message.KernelMessage) error
}

// RuntimeService handles messages addressed to a reserved process id
// (spec §4.9 / table in §6) — timer, fd-manager, net, state, terminal, ...
type RuntimeService interface {
	Handle(km message.KernelMessage)
}

// Process is what the registry installs for a locally running (or runtime)
// process: the inbox the bus pushes into, and whether it is public.
type Process struct {
	Inbox  chan message.KernelMessage
	Public bool
}

type timeoutKey struct {
	id     uint64
	target address.Address
}

// Bus is the kernel loop. All exported methods are safe for concurrent
// use; the process and runtime-service tables are mutated only on a
// dedicated goroutine. The capability store is not: it guards itself with
// its own lock.
type Bus struct {
	ourNode string

	cmds chan func()

	processes map[address.ProcessID]*Process
	runtimes  map[address.ProcessID]RuntimeService
	caps      *capability.Store
	net       Networker
	signer    capability.Signer

	timersMu sync.Mutex
	timers   map[timeoutKey]*time.Timer

	idMu   sync.Mutex
	nextID uint64

	wg   sync.WaitGroup
	quit chan struct{}
}

// New constructs a Bus for ourNode. caps and signer back capability
// validation and transferable-capability verification (spec §4.1, §4.2).
func New(ourNode string, caps *capability.Store, net Networker, signer capability.Signer) *Bus {
	b := &Bus{
		ourNode:   ourNode,
		cmds:      make(chan func(), 4096),
		processes: make(map[address.ProcessID]*Process),
		runtimes:  make(map[address.ProcessID]RuntimeService),
		caps:      caps,
		net:       net,
		signer:    signer,
		timers:    make(map[timeoutKey]*time.Timer),
		quit:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

func (b *Bus) loop() {
	defer b.wg.Done()
	for {
		select {
		case fn := <-b.cmds:
			fn()
		case <-b.quit:
			// Drain remaining commands so in-flight deregistrations still
			// flush their pending requests, then exit.
			for {
				select {
				case fn := <-b.cmds:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Stop performs the graceful drain described in §7's "clean shutdown".
func (b *Bus) Stop() {
	close(b.quit)
	b.wg.Wait()
}

// run executes fn on the single kernel-loop goroutine and waits for it to
// complete, giving callers synchronous semantics over single-writer state.
func (b *Bus) run(fn func()) {
	done := make(chan struct{})
	b.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// SetNetworker completes the bus's wiring to the networking subsystem once
// it exists. Networking's own constructor takes the bus (so it can deliver
// inbound frames and runtime-service Handle calls through it), so the two
// can't be constructed in a single pass; boot constructs the bus first,
// then networking, then calls this once before either handles traffic.
func (b *Bus) SetNetworker(net Networker) {
	b.run(func() {
		b.net = net
	})
}

// NextID allocates a globally-unique (per source) request id.
func (b *Bus) NextID() uint64 {
	b.idMu.Lock()
	defer b.idMu.Unlock()
	b.nextID++
	return b.nextID
}

// RegisterProcess installs a locally running process (spec §4.1).
func (b *Bus) RegisterProcess(pid address.ProcessID, inbox chan message.KernelMessage, public bool) {
	b.run(func() {
		b.processes[pid] = &Process{Inbox: inbox, Public: public}
	})
}

// RegisterRuntimeService binds a reserved process id to an in-process
// handler (spec §2's runtime-service registry, §6's reserved addresses).
func (b *Bus) RegisterRuntimeService(pid address.ProcessID, svc RuntimeService) {
	b.run(func() {
		b.runtimes[pid] = svc
	})
}

// DeregisterProcess tears a process down: flushes pending requests that
// named it as responder into SendErrors to their source (spec §4.1).
// Here that flush is implicit — any request still awaiting a timer for
// (id, process) will time out naturally; DeregisterProcess additionally
// drops its capabilities and prunes capabilities it issued.
func (b *Bus) DeregisterProcess(pid address.ProcessID, caps *capability.Store) {
	b.run(func() {
		delete(b.processes, pid)
		delete(b.runtimes, pid)
	})
	caps.Drop(pid)
	caps.PruneIssuedBy(address.New(b.ourNode, pid))
}

// cancelTimer cancels a pending timeout for (id, target), if any.
func (b *Bus) cancelTimer(id uint64, target address.Address) {
	key := timeoutKey{id: id, target: target}
	b.timersMu.Lock()
	t, ok := b.timers[key]
	if ok {
		delete(b.timers, key)
	}
	b.timersMu.Unlock()
	if ok {
		t.Stop()
	}
}

// armTimer arms a Response timeout for a just-routed outgoing Request.
func (b *Bus) armTimer(req message.KernelMessage, millis uint64) {
	replyTo := req.ReplyTo()
	key := timeoutKey{id: req.ID, target: replyTo}
	t := time.AfterFunc(time.Duration(millis)*time.Millisecond, func() {
		b.timersMu.Lock()
		_, still := b.timers[key]
		delete(b.timers, key)
		b.timersMu.Unlock()
		if !still {
			return // a real Response already cancelled this timer
		}
		sylog.Verbosef("timeout: id=%d target=%s", req.ID, replyTo)
		resp := message.SynthesizeResponse(req, message.SendErrorTimeout, address.ReservedAt(b.ourNode, address.ProcessKernel))
		b.Send(context.Background(), resp)
	})
	b.timersMu.Lock()
	b.timers[key] = t
	b.timersMu.Unlock()
}
