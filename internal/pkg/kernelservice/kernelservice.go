// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package kernelservice binds the reserved `kernel` address (spec §6): the
// Spawn/KillProcess/GrantCapabilities/RevokeCapabilities/Debug request
// surface a process uses to manage its own children and capability grants.
// It is the glue between internal/pkg/registry (process lifecycle) and
// internal/pkg/capability (the capability sets the bus enforces), neither
// of which reaches into the other directly (spec §9: "avoid a
// lock-protected map shared across tasks" — both stay single-purpose, and
// this service is the only thing that calls both).
package kernelservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/capability"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernel"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/registry"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// SpawnRequest is Spawn's wire body (spec §4.3, §6).
type SpawnRequest struct {
	Name                string              `json:"name,omitempty"`
	WasmBytesHandle     string              `json:"wasm_bytes_handle,omitempty"`
	OnExit              registry.OnExit     `json:"on_exit"`
	RequestCapabilities []message.Capability `json:"request_capabilities,omitempty"`
	GrantCapabilities   []message.Capability `json:"grant_capabilities,omitempty"`
	Public              bool                `json:"public,omitempty"`
}

// CapRequest is Grant/RevokeCapabilities' shared wire body.
type CapRequest struct {
	Target       string                `json:"target"`
	Capabilities []message.Capability `json:"capabilities"`
}

// DebugRequest is Debug's wire body (spec §6: ProcessMap | Process(id) |
// HasCap(id, cap)).
type DebugRequest struct {
	ProcessMap bool               `json:"process_map,omitempty"`
	Process    string             `json:"process,omitempty"`
	HasCap     *HasCapRequest     `json:"has_cap,omitempty"`
}

// HasCapRequest names the process id and capability HasCap asks about.
type HasCapRequest struct {
	Process    string             `json:"process"`
	Capability message.Capability `json:"capability"`
}

// Request is the kernel runtime service's JSON request surface.
type Request struct {
	Spawn              *SpawnRequest `json:"spawn,omitempty"`
	KillProcess        *string       `json:"kill_process,omitempty"`
	GrantCapabilities  *CapRequest   `json:"grant_capabilities,omitempty"`
	RevokeCapabilities *CapRequest   `json:"revoke_capabilities,omitempty"`
	Debug              *DebugRequest `json:"debug,omitempty"`
}

// Response mirrors whichever arm of Request was served.
type Response struct {
	Spawned       string          `json:"spawned,omitempty"`
	KilledProcess string          `json:"killed_process,omitempty"`
	Granted       bool            `json:"granted,omitempty"`
	Revoked       bool            `json:"revoked,omitempty"`
	Debug         json.RawMessage `json:"debug,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Service binds the reserved `kernel` address.
type Service struct {
	self address.Address
	bus  *kernel.Bus
	reg  *registry.Registry
	caps *capability.Store
}

// New constructs the kernel service. self is normally
// address.ReservedAt(ourNode, address.ProcessKernel).
func New(self address.Address, bus *kernel.Bus, reg *registry.Registry, caps *capability.Store) *Service {
	return &Service{self: self, bus: bus, reg: reg, caps: caps}
}

// Handle implements kernel.RuntimeService.
func (s *Service) Handle(km message.KernelMessage) {
	req := km.Message.Request
	if req == nil {
		return
	}
	var body Request
	if err := json.Unmarshal(req.Body, &body); err != nil {
		s.reply(km, Response{Error: (&message.Malformed{Reason: err.Error()}).Error()})
		return
	}

	switch {
	case body.Spawn != nil:
		s.handleSpawn(km, *body.Spawn)
	case body.KillProcess != nil:
		s.handleKill(km, *body.KillProcess)
	case body.GrantCapabilities != nil:
		s.handleGrant(km, *body.GrantCapabilities)
	case body.RevokeCapabilities != nil:
		s.handleRevoke(km, *body.RevokeCapabilities)
	case body.Debug != nil:
		s.handleDebug(km, *body.Debug)
	default:
		sylog.Verbosef("kernel: request from %s named no recognized action", km.Source)
	}
}

func (s *Service) handleSpawn(km message.KernelMessage, req SpawnRequest) {
	params := registry.SpawnParams{
		Name:                req.Name,
		WasmBytesHandle:     req.WasmBytesHandle,
		OnExit:              req.OnExit,
		RequestCapabilities: req.RequestCapabilities,
		GrantCapabilities:   req.GrantCapabilities,
		Public:              req.Public,
	}
	pid, err := s.reg.Spawn(km.Source, params, s.onTrap)
	if err != nil {
		s.reply(km, Response{Error: err.Error()})
		return
	}
	// Spawn contract (spec §4.3): before init(address) runs, the child
	// holds exactly request_caps ∪ grant_caps ∪ {messaging to self}.
	s.caps.Install(pid, address.New(s.self.Node, pid), req.RequestCapabilities, req.GrantCapabilities)
	s.reply(km, Response{Spawned: pid.String()})
}

func (s *Service) handleKill(km message.KernelMessage, pidStr string) {
	pid, err := address.ParseProcessID(pidStr)
	if err != nil {
		s.reply(km, Response{Error: err.Error()})
		return
	}
	if err := s.reg.Kill(pid); err != nil {
		s.reply(km, Response{Error: err.Error()})
		return
	}
	s.bus.DeregisterProcess(pid, s.caps)
	s.reply(km, Response{KilledProcess: pidStr})
}

func (s *Service) handleGrant(km message.KernelMessage, req CapRequest) {
	target, err := address.ParseProcessID(req.Target)
	if err != nil {
		s.reply(km, Response{Error: err.Error()})
		return
	}
	if err := s.caps.Grant(km.Source.ProcessID, target, km.Source, req.Capabilities); err != nil {
		s.reply(km, Response{Error: err.Error()})
		return
	}
	s.reply(km, Response{Granted: true})
}

func (s *Service) handleRevoke(km message.KernelMessage, req CapRequest) {
	target, err := address.ParseProcessID(req.Target)
	if err != nil {
		s.reply(km, Response{Error: err.Error()})
		return
	}
	if err := s.caps.Revoke(km.Source.ProcessID, target, km.Source, req.Capabilities); err != nil {
		s.reply(km, Response{Error: err.Error()})
		return
	}
	s.reply(km, Response{Revoked: true})
}

func (s *Service) handleDebug(km message.KernelMessage, req DebugRequest) {
	var out any
	switch {
	case req.ProcessMap:
		out = s.reg.All()
	case req.Process != "":
		pid, err := address.ParseProcessID(req.Process)
		if err != nil {
			s.reply(km, Response{Error: err.Error()})
			return
		}
		p, ok := s.reg.Get(pid)
		if !ok {
			s.reply(km, Response{Error: fmt.Sprintf("kernel: no such process %s", pid)})
			return
		}
		out = p
	case req.HasCap != nil:
		pid, err := address.ParseProcessID(req.HasCap.Process)
		if err != nil {
			s.reply(km, Response{Error: err.Error()})
			return
		}
		out = s.caps.Has(pid, req.HasCap.Capability)
	default:
		s.reply(km, Response{Error: "kernel: empty debug request"})
		return
	}
	raw, err := json.Marshal(out)
	if err != nil {
		s.reply(km, Response{Error: err.Error()})
		return
	}
	s.reply(km, Response{Debug: raw})
}

// onTrap implements the bus-aware half of on_exit handling (spec §4.3):
// deregistering the dead process's address and capabilities, and
// delivering its death-notification requests if on_exit=Requests. The
// registry itself stays bus-agnostic; this closure is its only hook back
// into the kernel loop.
func (s *Service) onTrap(pid address.ProcessID, cause error) {
	p, ok := s.reg.Get(pid)
	from := address.New(s.self.Node, pid)
	if ok && p.OnExit.Kind == registry.OnExitRequests {
		if reqs := p.ExitRequests(from); len(reqs) > 0 {
			if err := s.bus.SendAll(context.Background(), reqs); err != nil {
				sylog.Warningf("kernel: delivering on_exit requests for %s: %v", pid, err)
			}
		}
	}
	s.bus.DeregisterProcess(pid, s.caps)
	sylog.Verbosef("kernel: process %s exited: %v", pid, cause)
}

func (s *Service) reply(km message.KernelMessage, resp Response) {
	if km.Message.Request == nil || km.Message.Request.ExpectsResponse == nil {
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		sylog.Errorf("kernel: marshaling response to %s: %v", km.Source, err)
		return
	}
	out := message.KernelMessage{
		ID:      km.ID,
		Source:  s.self,
		Target:  km.ReplyTo(),
		Message: message.Message{Response: &message.Response{Body: body}},
	}
	if err := s.bus.Send(context.Background(), out); err != nil {
		sylog.Warningf("kernel: replying to %s: %v", km.Source, err)
	}
}
