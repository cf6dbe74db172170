// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package fdmanager implements the reserved `fd-manager` runtime service
// (spec §4.6): it tracks `process -> fds_open`, refreshes its notion of the
// OS-reported RLIMIT_NOFILE on a schedule, and emits unsolicited Cull
// requests to fd-holding processes whenever the tracked total reaches its
// budget. golang.org/x/sys/unix gives direct access to getrlimit, matching
// the teacher's habit of reaching for x/sys rather than re-deriving syscall
// numbers by hand.
package fdmanager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernel"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// Request is the fd-manager's inbound wire body (spec §4.6, §6).
type Request struct {
	OpenFds       *uint64 `json:"open_fds,omitempty"`
	CloseFds      *uint64 `json:"close_fds,omitempty"`
	UpdateMax     *Limit  `json:"update_max,omitempty"`
	UpdateFraction *uint64 `json:"update_cull_fraction_denominator,omitempty"`
}

// CullRequest is sent unsolicited, by the manager, to every known
// fd-holding process (spec §4.6: "sent to processes, never accepted from
// them").
type CullRequest struct {
	Cull uint64 `json:"cull"`
}

// Limit is either a static fd count or a percentage of RLIMIT_NOFILE.
type Limit struct {
	Static     *uint64 `json:"static,omitempty"`
	PercentOfUlimit *uint64 `json:"percent_of_ulimit,omitempty"`
}

func (l Limit) resolve(ulimit uint64) uint64 {
	if l.Static != nil {
		return *l.Static
	}
	if l.PercentOfUlimit != nil {
		return ulimit * *l.PercentOfUlimit / 100
	}
	return ulimit
}

// Manager binds the reserved `fd-manager` address.
type Manager struct {
	self address.Address
	bus  *kernel.Bus

	mu                sync.Mutex
	fdsOpen           map[address.ProcessID]uint64
	holders           []address.ProcessID // insertion order, for deterministic Cull fan-out
	max               Limit
	cullFractionDenom uint64
	ulimit            uint64

	updateUlimitEvery time.Duration
	quit              chan struct{}
	wg                sync.WaitGroup
}

// New constructs the fd-manager. max defaults to 50% of RLIMIT_NOFILE,
// cullFractionDenom to 2 (cull half of each holder's fds), matching the
// spec's suggested defaults (§7 Size Budget notes a config-driven system).
func New(self address.Address, bus *kernel.Bus) *Manager {
	m := &Manager{
		self:              self,
		bus:               bus,
		fdsOpen:           make(map[address.ProcessID]uint64),
		max:               Limit{PercentOfUlimit: uint64Ptr(50)},
		cullFractionDenom: 2,
		updateUlimitEvery: 300 * time.Second,
		quit:              make(chan struct{}),
	}
	m.refreshUlimit()
	return m
}

func uint64Ptr(v uint64) *uint64 { return &v }

// Run starts the periodic ulimit-refresh loop; it returns once ctx is
// cancelled or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.updateUlimitEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.refreshUlimit()
			case <-ctx.Done():
				return
			case <-m.quit:
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	close(m.quit)
	m.wg.Wait()
}

func (m *Manager) refreshUlimit() {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		sylog.Warningf("fd-manager: getrlimit failed, keeping previous budget: %v", err)
		return
	}
	m.mu.Lock()
	m.ulimit = rlim.Cur
	m.mu.Unlock()
}

// Handle implements kernel.RuntimeService.
func (m *Manager) Handle(km message.KernelMessage) {
	req := km.Message.Request
	if req == nil {
		return
	}
	var body Request
	if err := json.Unmarshal(req.Body, &body); err != nil {
		sylog.Warningf("fd-manager: malformed request from %s: %v", km.Source, err)
		return
	}

	switch {
	case body.OpenFds != nil:
		m.adjust(km.Source.ProcessID, int64(*body.OpenFds))
	case body.CloseFds != nil:
		m.adjust(km.Source.ProcessID, -int64(*body.CloseFds))
	case body.UpdateMax != nil:
		m.mu.Lock()
		m.max = *body.UpdateMax
		m.mu.Unlock()
	case body.UpdateFraction != nil:
		m.mu.Lock()
		m.cullFractionDenom = *body.UpdateFraction
		m.mu.Unlock()
	}

	m.maybeCull()
}

// adjust increments or decrements a process's tracked fd count and keeps
// the insertion-ordered holder list in sync (used for Cull fan-out order).
func (m *Manager) adjust(pid address.ProcessID, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, known := m.fdsOpen[pid]; !known && delta > 0 {
		m.holders = append(m.holders, pid)
	}
	cur := int64(m.fdsOpen[pid]) + delta
	if cur < 0 {
		cur = 0
	}
	m.fdsOpen[pid] = uint64(cur)
}

// Total reports the sum of fds_open across all holders (§8 invariant).
func (m *Manager) Total() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total()
}

func (m *Manager) total() uint64 {
	var sum uint64
	for _, v := range m.fdsOpen {
		sum += v
	}
	return sum
}

// maybeCull emits an unsolicited Cull to every known holder when the
// tracked total has reached the budget (spec §4.6, §8).
func (m *Manager) maybeCull() {
	m.mu.Lock()
	total := m.total()
	max := m.max.resolve(m.ulimit)
	denom := m.cullFractionDenom
	holders := append([]address.ProcessID(nil), m.holders...)
	m.mu.Unlock()

	if total < max || denom == 0 {
		return
	}
	for _, pid := range holders {
		m.sendCull(pid, denom)
	}
}

func (m *Manager) sendCull(pid address.ProcessID, denom uint64) {
	body, _ := json.Marshal(CullRequest{Cull: denom})
	req := message.Request{Body: body}
	km := message.KernelMessage{
		ID:      m.bus.NextID(),
		Source:  m.self,
		Target:  address.New(m.self.Node, pid),
		Message: message.Message{Request: &req},
	}
	if err := m.bus.Send(context.Background(), km); err != nil {
		sylog.Warningf("fd-manager: sending cull to %s: %v", pid, err)
	}
}
