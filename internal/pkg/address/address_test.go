// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package address

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"node1.os@terminal:distro:sys",
		"alice.os@my-process:my-package:alice.os",
	}
	for _, c := range cases {
		a, err := Parse(c)
		assert.NilError(t, err)
		assert.Equal(t, a.String(), c)
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("no-at-sign")
	assert.ErrorContains(t, err, "missing '@'")

	_, err = Parse("node@onlyname")
	assert.ErrorContains(t, err, "malformed process id")
}

func TestIsReserved(t *testing.T) {
	kernel := Reserved(ProcessKernel)
	assert.Assert(t, kernel.IsReserved())

	app := ProcessID{Name: "app", Package: "app", Publisher: "alice.os"}
	assert.Assert(t, !app.IsReserved())
}

func TestReservedAt(t *testing.T) {
	a := ReservedAt("node1.os", ProcessNet)
	assert.Equal(t, a.String(), "node1.os@net:distro:sys")
}
