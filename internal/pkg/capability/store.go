// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package capability implements the capability store (spec §4.2): per-
// process capability sets, grant/revoke, transferable-capability signing
// and verification, and the removal of capabilities issued by a process
// once that process is deregistered (PruneIssuedBy).
package capability

import (
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
	"github.com/hyperware-ai/hyperdrive/pkg/util/slice"
)

// conventional param values used by the core (spec §4.2).
var (
	ParamsMessaging = []byte(`"messaging"`)
	ParamsRoot      = []byte(`{"root":true}`)
)

// DrivePerm is the kind of a VFS drive capability's conventional params.
type DrivePerm string

const (
	DriveRead  DrivePerm = "read"
	DriveWrite DrivePerm = "write"
)

// Exists reports whether a process exists. Store does not consult it:
// capabilities issued by a removed process are pruned by PruneIssuedBy,
// which the bus calls when it deregisters that process.
type Exists func(p address.ProcessID) bool

// Store owns every process's capability set. It guards itself with its own
// mutex and is mutated on whichever goroutine calls Grant, Revoke, Install,
// Drop or PruneIssuedBy (the kernel runtime service and the bus); it is not
// routed through the bus's command loop. Snapshot hands out copies.
type Store struct {
	mu   sync.Mutex
	sets map[address.ProcessID]map[string]message.Capability
}

// New constructs an empty capability store.
func New() *Store {
	return &Store{sets: make(map[address.ProcessID]map[string]message.Capability)}
}

func (s *Store) setFor(p address.ProcessID) map[string]message.Capability {
	set, ok := s.sets[p]
	if !ok {
		set = make(map[string]message.Capability)
		s.sets[p] = set
	}
	return set
}

// Grant installs caps on target, issued by caller; requires the caller to
// itself hold each cap, or be its issuer (spec §4.2). Emits a printout at
// verbosity 2 for every successfully granted capability.
func (s *Store) Grant(caller, target address.ProcessID, callerAddr address.Address, caps []message.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	callerSet := s.setFor(caller)
	for _, c := range caps {
		_, held := callerSet[c.Key()]
		if c.Issuer != callerAddr && !held {
			return &message.CapabilityDenied{Required: c}
		}
	}
	targetSet := s.setFor(target)
	for _, c := range caps {
		targetSet[c.Key()] = c
		sylog.Verbosef("GrantedCapabilities: %s -> %s: %s", caller, target, c)
	}
	return nil
}

// Revoke removes caps from target; same authorization rule as Grant.
func (s *Store) Revoke(caller, target address.ProcessID, callerAddr address.Address, caps []message.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	callerSet := s.setFor(caller)
	for _, c := range caps {
		if c.Issuer != callerAddr {
			if _, held := callerSet[c.Key()]; !held {
				return &message.CapabilityDenied{Required: c}
			}
		}
	}
	targetSet := s.setFor(target)
	for _, c := range caps {
		delete(targetSet, c.Key())
	}
	return nil
}

// Has reports whether process holds cap.
func (s *Store) Has(process address.ProcessID, cap message.Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.setFor(process)[cap.Key()]
	return ok
}

// HasMessaging reports whether process holds a messaging capability issued
// by issuer — the bus's own enforcement point for sends to non-public
// processes (spec §4.3 "public-process flag").
func (s *Store) HasMessaging(process address.ProcessID, issuer address.Address) bool {
	return s.Has(process, message.Capability{Issuer: issuer, Params: ParamsMessaging})
}

// Install sets the full capability set for a freshly spawned process,
// enforcing §4.3's spawn contract: the union of request_capabilities,
// grant_capabilities (auto-issued by the spawner), and messaging-to-self.
func (s *Store) Install(process address.ProcessID, self address.Address, requestCaps, grantCaps []message.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.setFor(process)
	for _, c := range requestCaps {
		set[c.Key()] = c
	}
	for _, c := range grantCaps {
		set[c.Key()] = c
	}
	self_ := message.Capability{Issuer: self, Params: ParamsMessaging}
	set[self_.Key()] = self_
}

// Drop removes every capability held by process — called when it exits
// (spec §3 Peer/process lifecycle: "capabilities held by it are dropped
// with it").
func (s *Store) Drop(process address.ProcessID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, process)
}

// PruneIssuedBy removes, from every process's set, capabilities issued by a
// process that has just been uninstalled (spec §4.2).
func (s *Store) PruneIssuedBy(issuer address.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.sets {
		for k, c := range set {
			if c.Issuer == issuer {
				delete(set, k)
			}
		}
	}
}

// Snapshot returns a copy of process's capability set, safe to hand to a
// process task without further synchronization (spec §5's "processes see a
// snapshot when a message is delivered").
func (s *Store) Snapshot(process address.ProcessID) []message.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.setFor(process)
	out := make([]message.Capability, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// transferPayload is msgpack(issuer, params) — exactly what
// SignTransferable signs and VerifyTransferable checks.
type transferPayload struct {
	Issuer address.Address `msgpack:"issuer"`
	Params []byte          `msgpack:"params"`
}

func marshalForSigning(c message.Capability) ([]byte, error) {
	return msgpack.Marshal(transferPayload{Issuer: c.Issuer, Params: c.Params})
}

// Signer signs and verifies capability envelopes using a node's Ed25519
// networking keypair (spec §3, §4.2). identity.KeySigner provides the
// concrete implementation backed by the decrypted networking keypair.
type Signer interface {
	SignNode(msg []byte) []byte
	VerifyNode(nodeName string, msg, sig []byte) bool
}

// SignTransferable signs msgpack(issuer, params) with signer's node key
// before the networking layer ships c across the wire (spec §4.2).
func SignTransferable(signer Signer, c message.Capability) (message.Capability, error) {
	payload, err := marshalForSigning(c)
	if err != nil {
		return message.Capability{}, err
	}
	c.Signature = signer.SignNode(payload)
	return c, nil
}

// VerifyTransferable verifies c's signature against the issuer node's PKI
// key (spec §4.2). A capability with no signature never verifies.
func VerifyTransferable(signer Signer, c message.Capability) bool {
	if len(c.Signature) == 0 {
		return false
	}
	payload, err := marshalForSigning(c)
	if err != nil {
		return false
	}
	return signer.VerifyNode(c.Issuer.Node, payload, c.Signature)
}

// Validate applies the bus's capability-attachment rule (spec §4.1): a cap
// is valid if issued by a local process and present in that process's set,
// or if it carries a verifying node signature. Invalid capabilities are
// dropped from the returned slice; the message still delivers.
func (s *Store) Validate(ourNode string, holder address.ProcessID, signer Signer, caps []message.Capability) []message.Capability {
	valid := make([]message.Capability, 0, len(caps))
	for _, c := range caps {
		if c.Issuer.Node == ourNode {
			if s.Has(holder, message.Capability{Issuer: c.Issuer, Params: c.Params}) || s.Has(c.Issuer.ProcessID, message.Capability{Issuer: c.Issuer, Params: c.Params}) {
				valid = append(valid, c)
				continue
			}
		}
		if VerifyTransferable(signer, c) {
			valid = append(valid, c)
			continue
		}
		sylog.Verbosef("dropping invalid capability %s", c)
	}
	return valid
}

// Diff returns caps in a that are not in b, by (issuer, params) key — used
// when re-spawning a process with the same parameters (spec §8's round-trip
// property: same capability set survives Kill;re-Spawn).
func Diff(a, b []message.Capability) []message.Capability {
	bKeys := make([]string, 0, len(b))
	for _, c := range b {
		bKeys = append(bKeys, c.Key())
	}
	out := make([]message.Capability, 0, len(a))
	for _, c := range a {
		if !slice.ContainsString(bKeys, c.Key()) {
			out = append(out, c)
		}
	}
	return out
}
