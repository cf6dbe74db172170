// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package timerservice implements the reserved `timer` runtime service
// (spec §4.7): SetTimer(ms) replies with an empty Response once ms
// milliseconds elapse. Entries that share a pop time share a single sleeper
// task, matching the spec's invariant ("at most one sleeper task per
// distinct pop-time") rather than the naive one-goroutine-per-timer scheme.
package timerservice

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernel"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// Request is the SetTimer(ms) wire body (spec §6: "timer: SetTimer(ms)").
type Request struct {
	SetTimer *uint64 `json:"set_timer,omitempty"`
	Debug    bool    `json:"debug,omitempty"`
}

type waiter struct {
	requestID uint64
	replyTo   address.Address
}

// Service binds the reserved `timer` address (spec §4.7).
type Service struct {
	self address.Address
	bus  *kernel.Bus

	now func() time.Time

	mu      sync.Mutex
	waiting map[int64][]waiter // pop-time (unix ms) -> pending repliers
	armed   map[int64]bool
}

// New constructs the timer service bound to self, sending replies through
// bus. self is normally address.ReservedAt(ourNode, address.ProcessTimer).
func New(self address.Address, bus *kernel.Bus) *Service {
	return &Service{
		self:    self,
		bus:     bus,
		now:     time.Now,
		waiting: make(map[int64][]waiter),
		armed:   make(map[int64]bool),
	}
}

// Handle implements kernel.RuntimeService. Requests from remote nodes are
// ignored per spec §4.7.
func (s *Service) Handle(km message.KernelMessage) {
	if km.Source.Node != s.self.Node {
		sylog.Verbosef("timer: ignoring request from remote node %s", km.Source.Node)
		return
	}
	req := km.Message.Request
	if req == nil {
		return
	}
	var body Request
	if err := json.Unmarshal(req.Body, &body); err != nil {
		sylog.Warningf("timer: malformed request from %s: %v", km.Source, err)
		return
	}
	if body.SetTimer == nil {
		return
	}
	s.setTimer(*body.SetTimer, km.ID, km.ReplyTo())
}

func (s *Service) setTimer(ms uint64, requestID uint64, replyTo address.Address) {
	if ms == 0 {
		s.reply(requestID, replyTo)
		return
	}
	popAt := s.now().Add(time.Duration(ms) * time.Millisecond).UnixMilli()

	s.mu.Lock()
	s.waiting[popAt] = append(s.waiting[popAt], waiter{requestID: requestID, replyTo: replyTo})
	alreadyArmed := s.armed[popAt]
	s.armed[popAt] = true
	s.mu.Unlock()

	if alreadyArmed {
		return
	}
	delay := time.Duration(ms) * time.Millisecond
	time.AfterFunc(delay, func() { s.fire(popAt) })
}

func (s *Service) fire(popAt int64) {
	s.mu.Lock()
	ws := s.waiting[popAt]
	delete(s.waiting, popAt)
	delete(s.armed, popAt)
	s.mu.Unlock()

	for _, w := range ws {
		s.reply(w.requestID, w.replyTo)
	}
}

func (s *Service) reply(requestID uint64, replyTo address.Address) {
	resp := message.Response{Body: []byte("{}")}
	km := message.KernelMessage{
		ID:      requestID,
		Source:  s.self,
		Target:  replyTo,
		Message: message.Message{Response: &resp},
	}
	if err := s.bus.Send(context.Background(), km); err != nil {
		sylog.Warningf("timer: delivering pop response: %v", err)
	}
}
