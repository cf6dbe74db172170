// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package message

import "fmt"

// Malformed is returned by a service when a process-to-service body failed
// to parse (spec §7); it is carried in a Response body, never panicked.
type Malformed struct {
	Reason string
}

func (e *Malformed) Error() string {
	return fmt.Sprintf("malformed: %s", e.Reason)
}

// CapabilityDenied is returned by a guarded call that lacked a required
// capability (spec §7) — an application-level error, not a bus-enforced one
// (the bus only enforces the "messaging" capability to non-public processes).
type CapabilityDenied struct {
	Required Capability
}

func (e *CapabilityDenied) Error() string {
	return fmt.Sprintf("capability denied: requires %s", e.Required)
}

// KernelFatal marks a truly unrecoverable condition (spec §7). No code in
// this module constructs or handles it.
type KernelFatal struct {
	Reason string
}

func (e *KernelFatal) Error() string {
	return fmt.Sprintf("kernel fatal: %s", e.Reason)
}
