// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package boot assembles the runtime-service registry (spec §2's
// "Runtime-service registry", §6's reserved addresses) out of the
// independently-testable components the rest of internal/pkg implements:
// the kernel bus, the process registry, capability store, networking, the
// timer/fd-manager/state/terminal runtime services, and the keyfile-backed
// node identity. cmd/hyperdrive calls New then Run; nothing outside this
// package needs to know the construction order the circular bus<->net
// dependency forces.
package boot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/capability"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/config"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/fdmanager"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/hyperfs"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/identity"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/keyfile"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernel"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernelservice"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/network"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/registry"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/terminal"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/timerservice"
)

// Node bundles every runtime-service and kernel component running on one
// node, wired together per spec §2's component table.
type Node struct {
	Cfg config.File

	OurNode string

	Bus      *kernel.Bus
	Caps     *capability.Store
	Registry *registry.Registry
	FS       *hyperfs.FS
	PKI      *identity.Cache
	Signer   *identity.KeySigner
	Net      *network.Service
	Timer    *timerservice.Service
	FdMgr    *fdmanager.Manager
	Terminal *terminal.Service
	Kernel   *kernelservice.Service
}

// noopEngine stands in for the WASM engine trait (spec §1: out of scope,
// "treated as a trait that can instantiate a module and invoke an
// init(address) entrypoint"). Every persisted process this core manages
// directly is a runtime service (WasmBytesHandle == ""), so the registry
// never actually calls into this during the scenarios §8 describes; a real
// deployment supplies a concrete Engine that embeds or shells out to a
// WASM runtime.
type noopEngine struct{}

func (noopEngine) Instantiate(addr address.Address, wasmBytesHandle string, onTrap func(error)) error {
	return fmt.Errorf("boot: no WASM engine configured, cannot instantiate %s (%s)", addr, wasmBytesHandle)
}

func (noopEngine) Kill(addr address.Address) error { return nil }

// New wires a Node from cfg and a decrypted keyfile, but does not yet bind
// listeners or start background loops — call Run for that.
func New(ourNode string, cfg config.File, kf *keyfile.Keyfile) (*Node, error) {
	sylog.SetLevelFromString(cfg.LogLevel)

	identityKey, staticKey, err := keyfile.DeriveNetworkingKeys(kf.NetworkingKey)
	if err != nil {
		return nil, errors.Wrap(err, "boot: deriving networking keys")
	}

	pki := identity.NewCache()
	signer := identity.NewKeySigner(ourNode, identityKey, pki)
	caps := capability.New()

	// The bus needs a Networker at construction but networking needs the
	// bus; SetNetworker below closes the loop (see kernel.Bus.SetNetworker).
	bus := kernel.New(ourNode, caps, nil, signer)

	dbPath := filepath.Join(cfg.Home, "registry.db")
	eng := noopEngine{}
	reg, err := registry.Open(ourNode, dbPath, eng)
	if err != nil {
		bus.Stop()
		return nil, errors.Wrap(err, "boot: opening registry")
	}
	reg.RestartMaxCrashes = cfg.RestartMaxCrashes
	reg.RestartWindow = cfg.RestartWindow

	fs, err := hyperfs.Open(cfg.Home, reg.DB())
	if err != nil {
		_ = reg.Close()
		bus.Stop()
		return nil, errors.Wrap(err, "boot: opening hyperfs")
	}

	netSelf := address.ReservedAt(ourNode, address.ProcessNet)
	netSvc := network.New(netSelf, bus, pki, identityKey, staticKey)
	bus.SetNetworker(netSvc)
	bus.RegisterRuntimeService(address.Reserved(address.ProcessNet), netSvc)

	timerSvc := timerservice.New(address.ReservedAt(ourNode, address.ProcessTimer), bus)
	bus.RegisterRuntimeService(address.Reserved(address.ProcessTimer), timerSvc)

	fdMgr := fdmanager.New(address.ReservedAt(ourNode, address.ProcessFdManager), bus)
	bus.RegisterRuntimeService(address.Reserved(address.ProcessFdManager), fdMgr)

	termSvc := terminal.New(address.ReservedAt(ourNode, address.ProcessTerminal), bus)
	bus.RegisterRuntimeService(address.Reserved(address.ProcessTerminal), termSvc)

	kernelSvc := kernelservice.New(address.ReservedAt(ourNode, address.ProcessKernel), bus, reg, caps)
	bus.RegisterRuntimeService(address.Reserved(address.ProcessKernel), kernelSvc)

	// The `state` reserved id is not a bus-routed runtime service in this
	// architecture: hostabi.Host holds the state.Store (fs, satisfying that
	// interface) directly (§4.4, §6) rather than going through another hop
	// of message routing.

	return &Node{
		Cfg:      cfg,
		OurNode:  ourNode,
		Bus:      bus,
		Caps:     caps,
		Registry: reg,
		FS:       fs,
		PKI:      pki,
		Signer:   signer,
		Net:      netSvc,
		Timer:    timerSvc,
		FdMgr:    fdMgr,
		Terminal: termSvc,
		Kernel:   kernelSvc,
	}, nil
}

// Run starts background loops (fd-manager ulimit refresh, peer listeners)
// and restores persisted processes from the registry. It blocks until ctx
// is cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.FdMgr.Run(ctx)

	wsAddr := fmt.Sprintf(":%d", n.Cfg.WSPort)
	tcpAddr := fmt.Sprintf(":%d", n.Cfg.TCPPort)
	if err := n.Net.Listen(ctx, wsAddr, tcpAddr); err != nil {
		return errors.Wrap(err, "boot: starting listeners")
	}

	if err := n.restorePersisted(); err != nil {
		return errors.Wrap(err, "boot: restoring persisted processes")
	}

	sylog.Infof("node %s: kernel loop running (ws=%s tcp=%s)", n.OurNode, wsAddr, tcpAddr)
	<-ctx.Done()
	return nil
}

// Shutdown performs the graceful drain described in spec §7: every
// registered guest process is killed, then the kernel loop and background
// services stop.
func (n *Node) Shutdown() {
	for _, p := range n.Registry.All() {
		if p.IsRuntime() {
			continue
		}
		if err := n.Registry.Kill(p.ProcessID); err != nil {
			sylog.Warningf("boot: shutdown kill %s: %v", p.ProcessID, err)
		}
	}
	n.FdMgr.Stop()
	n.Bus.Stop()
	n.FS.Close()
	if err := n.Registry.Close(); err != nil {
		sylog.Warningf("boot: closing registry: %v", err)
	}
}

// restorePersisted re-instantiates every PersistedProcess the registry
// recovers from its prior run (spec §3's "Lifecycles": a process survives
// a restart by construction once persisted). Runtime services are already
// bound above and skipped here; guest processes need a real Engine, which
// this core's scope does not provide (spec §1), so restoration for those
// is logged rather than silently dropped.
func (n *Node) restorePersisted() error {
	persisted, err := n.Registry.Load()
	if err != nil {
		return err
	}
	if len(persisted) == 0 {
		return nil
	}
	bar := newRestoreProgress(len(persisted))
	defer bar.Wait()
	for _, p := range persisted {
		bar.Increment()
		if p.IsRuntime() {
			continue
		}
		sylog.Verbosef("boot: deferring restoration of guest process %s (no WASM engine configured)", p.ProcessID)
	}
	return nil
}
