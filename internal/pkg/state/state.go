// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package state declares the persistence contract behind the ABI's
// set_state/get_state calls (spec §4.4, §6). internal/pkg/hyperfs provides
// the concrete implementation; this package exists so hostabi doesn't need
// to import hyperfs directly.
package state

import "github.com/hyperware-ai/hyperdrive/internal/pkg/address"

// Store persists one opaque blob per process id.
type Store interface {
	Set(pid address.ProcessID, blob []byte) error
	Get(pid address.ProcessID) ([]byte, bool, error)
	Delete(pid address.ProcessID) error
}
