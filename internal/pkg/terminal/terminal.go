// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package terminal implements the reserved `terminal` runtime service
// (spec §4.1 "subscribe_printouts(level)", §6). It is modeled as a
// subscribable printout fan-out rather than an actual interactive TTY
// (SPEC_FULL.md §2): a process subscribes with a verbosity level and
// receives, as an unsolicited Response with id 0, every printout that passes
// sylog's global level. The subscribed level is recorded but does not filter
// what a subscriber receives.
package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernel"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// Request is the terminal wire body: Subscribe sets or replaces the
// caller's verbosity level; Unsubscribe removes it.
type Request struct {
	Subscribe   *int `json:"subscribe,omitempty"`
	Unsubscribe bool `json:"unsubscribe,omitempty"`
}

// Service binds the reserved `terminal` address. It registers with
// sylog.AddSubscriber so every printout in the process, from any component,
// reaches subscribers.
type Service struct {
	self address.Address
	bus  *kernel.Bus

	mu   sync.Mutex
	subs map[address.ProcessID]subscriber
}

type subscriber struct {
	addr  address.Address
	level int
}

// New constructs the terminal service bound to self and registers it as a
// sylog subscriber immediately; self is normally
// address.ReservedAt(ourNode, address.ProcessTerminal).
func New(self address.Address, bus *kernel.Bus) *Service {
	s := &Service{self: self, bus: bus, subs: make(map[address.ProcessID]subscriber)}
	sylog.AddSubscriber(fanoutWriter{s})
	return s
}

// Handle implements kernel.RuntimeService.
func (s *Service) Handle(km message.KernelMessage) {
	req := km.Message.Request
	if req == nil {
		return
	}
	var body Request
	if err := json.Unmarshal(req.Body, &body); err != nil {
		sylog.Warningf("terminal: malformed request from %s: %v", km.Source, err)
		return
	}

	s.mu.Lock()
	switch {
	case body.Unsubscribe:
		delete(s.subs, km.Source.ProcessID)
	case body.Subscribe != nil:
		s.subs[km.Source.ProcessID] = subscriber{addr: km.Source, level: *body.Subscribe}
	}
	s.mu.Unlock()

	if req.ExpectsResponse != nil {
		resp := message.Response{Body: []byte("{}")}
		out := message.KernelMessage{
			ID:      km.ID,
			Source:  s.self,
			Target:  km.ReplyTo(),
			Message: message.Message{Response: &resp},
		}
		if err := s.bus.Send(context.Background(), out); err != nil {
			sylog.Warningf("terminal: acking subscribe: %v", err)
		}
	}
}

// fanoutWriter adapts Service to io.Writer so it can register with sylog;
// every write is a complete printout line fanned out to every subscriber.
// The line carries no level tag, so a subscriber's level is not consulted;
// the only level filtering is sylog's global level (sylog.SetLevel).
type fanoutWriter struct{ s *Service }

func (w fanoutWriter) Write(p []byte) (int, error) {
	line := bytes.TrimRight(p, "\n")
	if len(line) == 0 {
		return len(p), nil
	}
	w.s.mu.Lock()
	subs := make([]subscriber, 0, len(w.s.subs))
	for _, sub := range w.s.subs {
		subs = append(subs, sub)
	}
	w.s.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"printout": string(line)})
	for _, sub := range subs {
		resp := message.Response{Body: body}
		km := message.KernelMessage{
			ID:      0,
			Source:  w.s.self,
			Target:  sub.addr,
			Message: message.Message{Response: &resp},
		}
		_ = w.s.bus.Send(context.Background(), km)
	}
	return len(p), nil
}
