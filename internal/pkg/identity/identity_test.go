// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package identity

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestValidateDirectRequiresPort(t *testing.T) {
	id := Identity{Name: "node1.os"}
	assert.ErrorContains(t, id.Validate(), "no advertised port")

	id.Routing.Ports.WS = 9000
	assert.NilError(t, id.Validate())
}

func TestValidateIndirectRequiresRouters(t *testing.T) {
	id := Identity{Name: "node2.os", Routing: Routing{Routers: nil}}
	assert.ErrorContains(t, id.Validate(), "no routers")

	id.Routing.Routers = []string{"router.os"}
	assert.NilError(t, id.Validate())
}

func TestCachePutAndLookup(t *testing.T) {
	c := NewCache()
	id := Identity{Name: "node1.os", Routing: Routing{Ports: Ports{WS: 9000}}}
	var h [32]byte
	h[0] = 0xAB

	assert.NilError(t, c.Put(id, h))

	got, ok := c.Lookup("node1.os")
	assert.Assert(t, ok)
	assert.Equal(t, got.Name, "node1.os")

	got, ok = c.LookupByNamehash(h)
	assert.Assert(t, ok)
	assert.Equal(t, got.Name, "node1.os")

	_, ok = c.Lookup("unknown.os")
	assert.Assert(t, !ok)
}

func TestCachePutRejectsInvalid(t *testing.T) {
	c := NewCache()
	var h [32]byte
	err := c.Put(Identity{Name: "bad.os"}, h)
	assert.ErrorContains(t, err, "no advertised port")
}
