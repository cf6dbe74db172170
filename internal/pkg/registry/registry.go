// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package registry implements the process registry (spec §4.3):
// PersistedProcess records, spawn/kill, and on_exit policy evaluation
// (None/Restart/Requests). Durable state lives in a bbolt bucket so a
// reboot can recover every process's wasm handle, on_exit policy and
// capability set, matching the teacher's habit of keeping long-lived
// daemon state in a single embedded KV file rather than flat files.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

var bucketProcesses = []byte("processes")

// OnExitKind discriminates the on_exit policy (spec §3).
type OnExitKind string

const (
	OnExitNone     OnExitKind = "none"
	OnExitRestart  OnExitKind = "restart"
	OnExitRequests OnExitKind = "requests"
)

// OnExit is None | Restart | Requests([KernelMessage]).
type OnExit struct {
	Kind     OnExitKind               `json:"kind"`
	Requests []message.KernelMessage `json:"requests,omitempty"`
}

// PersistedProcess is §3's data record. WasmBytesHandle is empty iff the
// process is a runtime service, in which case no host instantiation occurs.
type PersistedProcess struct {
	ProcessID       address.ProcessID   `json:"process_id"`
	WasmBytesHandle string              `json:"wasm_bytes_handle"`
	WITVersion      uint32              `json:"wit_version"`
	OnExit          OnExit              `json:"on_exit"`
	Capabilities    []message.Capability `json:"capabilities"`
	Public          bool                `json:"public"`
}

func (p PersistedProcess) IsRuntime() bool { return p.WasmBytesHandle == "" }

// SpawnParams is the Spawn contract's input (spec §4.3, §6).
type SpawnParams struct {
	Name               string
	WasmBytesHandle    string
	OnExit             OnExit
	RequestCapabilities []message.Capability // must already be held by the spawner
	GrantCapabilities   []message.Capability // auto-issued by spawner to the child
	Public             bool
}

// Engine is the WASM engine trait (spec §1, §4.4): out of scope beyond the
// shape of instantiate/init it must provide.
type Engine interface {
	// Instantiate loads wasmBytesHandle and invokes init(address); it
	// returns once the process task has started (spec §3 "transitions to
	// Running once the engine accepts it").
	Instantiate(addr address.Address, wasmBytesHandle string, onTrap func(error)) error
	Kill(addr address.Address) error
}

// restartState tracks the bounded-restart counters for one process
// (spec §4.3: demote to None after N crashes within W seconds).
type restartState struct {
	crashes []time.Time
	backoff *backoff.ExponentialBackOff
}

// Registry owns PersistedProcess records and process lifecycle.
type Registry struct {
	ourNode string
	db      *bbolt.DB
	engine  Engine

	mu        sync.Mutex
	processes map[address.ProcessID]*PersistedProcess
	restarts  map[address.ProcessID]*restartState

	// RestartBound(N, W): demote Restart to None after N consecutive
	// crashes within W. Defaults match spec §4.3's suggestion (5, 60s).
	RestartMaxCrashes int
	RestartWindow     time.Duration
}

// Open opens (creating if needed) the bbolt-backed registry at dbPath.
func Open(ourNode, dbPath string, engine Engine) (*Registry, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("registry: opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketProcesses)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("registry: creating bucket: %w", err)
	}
	return &Registry{
		ourNode:           ourNode,
		db:                db,
		engine:            engine,
		processes:         make(map[address.ProcessID]*PersistedProcess),
		restarts:          make(map[address.ProcessID]*restartState),
		RestartMaxCrashes: 5,
		RestartWindow:     60 * time.Second,
	}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// DB returns the shared bbolt handle so other components backed by the
// same on-disk database (e.g. hyperfs's state bucket) can reuse the single
// open file instead of opening their own.
func (r *Registry) DB() *bbolt.DB {
	return r.db
}

// randomProcessName names an anonymous spawn (no Name given in SpawnParams)
// with a fresh random v4 UUID, guaranteeing no collision with a concurrent
// anonymous spawn without the registry having to retry on a taken name.
func randomProcessName() string {
	return uuid.NewString()
}

func (r *Registry) persist(p *PersistedProcess) error {
	buf, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProcesses).Put([]byte(p.ProcessID.String()), buf)
	})
}

// Load restores every PersistedProcess from bbolt into memory, without
// instantiating them (the caller drives instantiation, typically with a
// progress bar over the restored set — see SPEC_FULL.md §0).
func (r *Registry) Load() ([]*PersistedProcess, error) {
	var out []*PersistedProcess
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProcesses).ForEach(func(k, v []byte) error {
			var p PersistedProcess
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, p := range out {
		r.processes[p.ProcessID] = p
	}
	r.mu.Unlock()
	return out, nil
}

// Get returns the persisted record for pid, if any.
func (r *Registry) Get(pid address.ProcessID) (*PersistedProcess, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[pid]
	return p, ok
}

// All returns every persisted process (diagnostic Debug(ProcessMap) §6).
func (r *Registry) All() []*PersistedProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PersistedProcess, 0, len(r.processes))
	for _, p := range r.processes {
		out = append(out, p)
	}
	return out
}

// Spawn fulfils §4.3's spawn contract: allocate a fresh ProcessID, persist
// the record, and instantiate it (unless it is a runtime service — those
// are bound directly via RegisterRuntimeService and never reach Spawn).
func (r *Registry) Spawn(spawner address.Address, params SpawnParams, onTrap func(address.ProcessID, error)) (address.ProcessID, error) {
	name := params.Name
	if name == "" {
		name = randomProcessName()
	}
	pid := address.ProcessID{Name: name, Package: spawner.ProcessID.Package, Publisher: spawner.ProcessID.Publisher}

	r.mu.Lock()
	if _, exists := r.processes[pid]; exists {
		r.mu.Unlock()
		return address.ProcessID{}, fmt.Errorf("registry: process %s already exists", pid)
	}
	p := &PersistedProcess{
		ProcessID:       pid,
		WasmBytesHandle: params.WasmBytesHandle,
		OnExit:          params.OnExit,
		Capabilities:    append(append([]message.Capability{}, params.RequestCapabilities...), params.GrantCapabilities...),
		Public:          params.Public,
	}
	r.processes[pid] = p
	r.mu.Unlock()

	if err := r.persist(p); err != nil {
		return address.ProcessID{}, err
	}

	addr := address.New(r.ourNode, pid)
	if err := r.engine.Instantiate(addr, params.WasmBytesHandle, func(err error) {
		r.handleExit(pid, spawner, params, onTrap, err)
	}); err != nil {
		return address.ProcessID{}, fmt.Errorf("registry: instantiate: %w", err)
	}
	return pid, nil
}

// Kill immediately tears a process down and deletes its record, both in
// memory and in bbolt. It does not evaluate on_exit: a Restart process is not
// restarted and on_exit Requests are not returned to the caller.
func (r *Registry) Kill(pid address.ProcessID) error {
	r.mu.Lock()
	_, ok := r.processes[pid]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("registry: no such process %s", pid)
	}
	if err := r.engine.Kill(address.New(r.ourNode, pid)); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.processes, pid)
	delete(r.restarts, pid)
	r.mu.Unlock()
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProcesses).Delete([]byte(pid.String()))
	})
}

// handleExit evaluates on_exit after the engine reports a trap. A process
// removed by Kill has no record left, so its exit is ignored here.
func (r *Registry) handleExit(pid address.ProcessID, spawner address.Address, params SpawnParams, onTrap func(address.ProcessID, error), cause error) {
	r.mu.Lock()
	p, ok := r.processes[pid]
	r.mu.Unlock()
	if !ok {
		return // already killed explicitly
	}

	if onTrap != nil {
		onTrap(pid, cause)
	}

	switch p.OnExit.Kind {
	case OnExitRestart:
		bounded, delay := r.crashed(pid)
		if bounded {
			sylog.Warningf("process %s crash-looped, demoting on_exit to None", pid)
			p.OnExit = OnExit{Kind: OnExitNone}
			_ = r.persist(p)
			return
		}
		sylog.Infof("restarting process %s after trap in %s: %v", pid, delay, cause)
		addr := address.New(r.ourNode, pid)
		time.AfterFunc(delay, func() {
			if err := r.engine.Instantiate(addr, p.WasmBytesHandle, func(err error) {
				r.handleExit(pid, spawner, params, onTrap, err)
			}); err != nil {
				sylog.Errorf("failed to restart %s: %v", pid, err)
			}
		})
	case OnExitRequests:
		// best-effort death notification; delivery is the caller's
		// responsibility (it owns the bus), so we just surface them.
		sylog.Verbosef("process %s exited with %d on_exit requests pending", pid, len(p.OnExit.Requests))
	default:
		r.mu.Lock()
		delete(r.processes, pid)
		r.mu.Unlock()
		_ = r.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketProcesses).Delete([]byte(pid.String()))
		})
	}
}

// crashed records a crash for pid and reports both whether it has now
// crashed RestartMaxCrashes times within RestartWindow (spec §4.3's bound)
// and how long to wait before the next restart attempt. The wait grows on
// every crash inside the window via backoff.ExponentialBackOff, and resets
// once a window with no prior crash starts fresh — a process that crashes
// once after running stably for a long time is restarted promptly, while
// one crash-looping within the window is retried with growing delay
// instead of spinning the engine immediately.
func (r *Registry) crashed(pid address.ProcessID) (bounded bool, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.restarts[pid]
	if !ok {
		rs = &restartState{backoff: backoff.NewExponentialBackOff()}
		r.restarts[pid] = rs
	}
	now := time.Now()
	cutoff := now.Add(-r.RestartWindow)
	kept := rs.crashes[:0]
	for _, c := range rs.crashes {
		if c.After(cutoff) {
			kept = append(kept, c)
		}
	}
	rs.crashes = append(kept, now)
	if len(rs.crashes) == 1 {
		rs.backoff.Reset()
	}
	delay = rs.backoff.NextBackOff()
	if delay < 0 {
		delay = 0
	}
	return len(rs.crashes) >= r.RestartMaxCrashes, delay
}

// ExitRequests returns the best-effort death-notification messages for a
// process with on_exit=Requests, stamped with its final capability set as
// source capabilities (spec §4.3).
func (p *PersistedProcess) ExitRequests(from address.Address) []message.KernelMessage {
	if p.OnExit.Kind != OnExitRequests {
		return nil
	}
	out := make([]message.KernelMessage, len(p.OnExit.Requests))
	for i, km := range p.OnExit.Requests {
		km.Source = from
		if km.Message.Request != nil {
			r := *km.Message.Request
			r.Capabilities = p.Capabilities
			km.Message.Request = &r
		}
		out[i] = km
	}
	return out
}
