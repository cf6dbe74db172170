// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package identity models the PKI entry for a node (spec §3). The chain
// indexer that actually populates a PKI cache is out of scope (spec §1);
// this package only defines the cache's shape and the interface networking
// consumes it through.
package identity

import "fmt"

// Ports a Direct identity advertises, keyed by transport name.
type Ports struct {
	WS  uint16 `json:"ws,omitempty"`
	TCP uint16 `json:"tcp,omitempty"`
}

// Empty reports whether neither transport has a listening port.
func (p Ports) Empty() bool {
	return p.WS == 0 && p.TCP == 0
}

// Routing is Direct{ip, ports} | Indirect{routers}.
type Routing struct {
	IP      string   `json:"ip,omitempty"`
	Ports   Ports    `json:"ports,omitempty"`
	Routers []string `json:"routers,omitempty"`
}

// IsDirect reports whether this identity is reachable without a router.
func (r Routing) IsDirect() bool {
	return len(r.Routers) == 0
}

// Identity is a PKI entry: a node's name, its static networking public key,
// its routing info, and an opaque on-chain TBA reference.
type Identity struct {
	Name               string  `json:"name"`
	NetworkingPublicKey []byte `json:"networking_public_key" msgpack:"networking_public_key"`
	Routing            Routing `json:"routing"`
	TBA                string  `json:"tba,omitempty"`
}

// Validate enforces §3's invariant: a direct identity has at least one
// listening port; an indirect identity has a non-empty router list.
func (id Identity) Validate() error {
	if id.Routing.IsDirect() {
		if id.Routing.Ports.Empty() {
			return fmt.Errorf("identity %q: direct identity has no advertised port", id.Name)
		}
		return nil
	}
	if len(id.Routing.Routers) == 0 {
		return fmt.Errorf("identity %q: indirect identity has no routers", id.Name)
	}
	return nil
}

// PKI is the interface networking consumes to resolve a name to an
// Identity. The on-chain name-registry indexer that feeds a concrete
// implementation is out of scope (spec §1); Cache below is the in-memory
// implementation the core ships so the rest of networking has something to
// compile and test against.
type PKI interface {
	Lookup(name string) (Identity, bool)
	LookupByNamehash(namehash [32]byte) (Identity, bool)
}

// Cache is a PKI populated by whatever out-of-scope indexer feeds it
// (on-chain events, a bootstrap file, …). It holds no lock: concurrent
// lookups are safe, but Put must not run concurrently with any other call.
type Cache struct {
	byName     map[string]Identity
	byNamehash map[[32]byte]string
}

// NewCache constructs an empty PKI cache.
func NewCache() *Cache {
	return &Cache{
		byName:     make(map[string]Identity),
		byNamehash: make(map[[32]byte]string),
	}
}

// Put installs or replaces an identity, indexing it by both name and
// namehash so net's GetName(namehash) contract can be served.
func (c *Cache) Put(id Identity, namehash [32]byte) error {
	if err := id.Validate(); err != nil {
		return err
	}
	c.byName[id.Name] = id
	c.byNamehash[namehash] = id.Name
	return nil
}

func (c *Cache) Lookup(name string) (Identity, bool) {
	id, ok := c.byName[name]
	return id, ok
}

func (c *Cache) LookupByNamehash(namehash [32]byte) (Identity, bool) {
	name, ok := c.byNamehash[namehash]
	if !ok {
		return Identity{}, false
	}
	return c.Lookup(name)
}
