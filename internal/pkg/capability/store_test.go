// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package capability

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gotest.tools/v3/assert"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
)

func TestGrantRevokeRoundTrip(t *testing.T) {
	s := New()
	alice := address.ProcessID{Name: "alice", Package: "app", Publisher: "alice.os"}
	bob := address.ProcessID{Name: "bob", Package: "app", Publisher: "alice.os"}
	aliceAddr := address.New("node1.os", alice)

	cap := message.Capability{Issuer: aliceAddr, Params: ParamsMessaging}

	err := s.Grant(alice, bob, aliceAddr, []message.Capability{cap})
	assert.NilError(t, err)
	assert.Assert(t, s.Has(bob, cap))

	err = s.Revoke(alice, bob, aliceAddr, []message.Capability{cap})
	assert.NilError(t, err)
	assert.Assert(t, !s.Has(bob, cap))
}

func TestGrantRequiresIssuerOrHolding(t *testing.T) {
	s := New()
	alice := address.ProcessID{Name: "alice", Package: "app", Publisher: "alice.os"}
	bob := address.ProcessID{Name: "bob", Package: "app", Publisher: "alice.os"}
	carolAddr := address.New("node1.os", address.ProcessID{Name: "carol", Package: "app", Publisher: "carol.os"})
	aliceAddr := address.New("node1.os", alice)

	cap := message.Capability{Issuer: carolAddr, Params: ParamsMessaging}
	err := s.Grant(alice, bob, aliceAddr, []message.Capability{cap})
	assert.ErrorContains(t, err, "capability denied")
}

func TestInstallSpawnContract(t *testing.T) {
	s := New()
	child := address.ProcessID{Name: "child", Package: "app", Publisher: "alice.os"}
	childAddr := address.New("node1.os", child)
	spawnerAddr := address.New("node1.os", address.ProcessID{Name: "alice", Package: "app", Publisher: "alice.os"})

	grantCap := message.Capability{Issuer: spawnerAddr, Params: ParamsRoot}
	s.Install(child, childAddr, nil, []message.Capability{grantCap})

	assert.Assert(t, s.Has(child, grantCap))
	assert.Assert(t, s.HasMessaging(child, childAddr))
}

func TestPruneIssuedBy(t *testing.T) {
	s := New()
	issuer := address.New("node1.os", address.ProcessID{Name: "svc", Package: "app", Publisher: "sys"})
	holder := address.ProcessID{Name: "holder", Package: "app", Publisher: "alice.os"}

	cap := message.Capability{Issuer: issuer, Params: ParamsMessaging}
	s.Install(holder, address.New("node1.os", holder), []message.Capability{cap}, nil)
	assert.Assert(t, s.Has(holder, cap))

	s.PruneIssuedBy(issuer)
	assert.Assert(t, !s.Has(holder, cap))
}

func TestSnapshotMatchesInstalledSet(t *testing.T) {
	s := New()
	child := address.ProcessID{Name: "child", Package: "app", Publisher: "alice.os"}
	childAddr := address.New("node1.os", child)
	spawnerAddr := address.New("node1.os", address.ProcessID{Name: "alice", Package: "app", Publisher: "alice.os"})

	want := []message.Capability{
		{Issuer: spawnerAddr, Params: ParamsRoot},
		{Issuer: childAddr, Params: ParamsMessaging},
	}
	s.Install(child, childAddr, nil, want)

	got := s.Snapshot(child)
	// Snapshot iterates a map, so the two sides only agree up to order;
	// cmpopts.SortSlices normalizes that before comparing field-by-field.
	byIssuerAndParams := func(a, b message.Capability) bool {
		if a.Issuer.String() != b.Issuer.String() {
			return a.Issuer.String() < b.Issuer.String()
		}
		return string(a.Params) < string(b.Params)
	}
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(byIssuerAndParams)); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff(t *testing.T) {
	issuer := address.New("node1.os", address.ProcessID{Name: "svc", Package: "app", Publisher: "sys"})
	a := []message.Capability{
		{Issuer: issuer, Params: ParamsMessaging},
		{Issuer: issuer, Params: ParamsRoot},
	}
	b := []message.Capability{
		{Issuer: issuer, Params: ParamsMessaging},
	}
	d := Diff(a, b)
	assert.Equal(t, len(d), 1)
	assert.DeepEqual(t, d[0].Params, ParamsRoot)
}
