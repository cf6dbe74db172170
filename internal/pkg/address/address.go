// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package address implements the address & identity data model (spec §3):
// a process is named `node@process:package:publisher`, and reserved
// process-ids under publisher "sys"/"distro" are bound to runtime services.
package address

import (
	"fmt"
	"strings"
)

// Reserved publishers for node-local runtime services (spec §6).
const (
	PublisherSys    = "sys"
	PublisherDistro = "distro"
)

// Reserved process ids bound to runtime services.
const (
	ProcessKernel     = "kernel"
	ProcessNet        = "net"
	ProcessVFS        = "vfs"
	ProcessEth        = "eth"
	ProcessTimer      = "timer"
	ProcessHTTPServer = "http-server"
	ProcessHTTPClient = "http-client"
	ProcessFdManager  = "fd-manager"
	ProcessTerminal   = "terminal"
	ProcessState      = "state"
)

// ProcessID is printed as "name:package:publisher".
type ProcessID struct {
	Name      string
	Package   string
	Publisher string
}

func (p ProcessID) String() string {
	return fmt.Sprintf("%s:%s:%s", p.Name, p.Package, p.Publisher)
}

// ParseProcessID parses the "name:package:publisher" wire form.
func ParseProcessID(s string) (ProcessID, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return ProcessID{}, fmt.Errorf("address: malformed process id %q", s)
	}
	return ProcessID{Name: parts[0], Package: parts[1], Publisher: parts[2]}, nil
}

// IsReserved reports whether the process id belongs to a node-local
// runtime service (publisher sys or distro).
func (p ProcessID) IsReserved() bool {
	return p.Publisher == PublisherSys || p.Publisher == PublisherDistro
}

// Reserved builds the conventional ProcessID for a reserved runtime service
// name, e.g. Reserved("net") -> net:distro:sys.
func Reserved(name string) ProcessID {
	return ProcessID{Name: name, Package: PublisherDistro, Publisher: PublisherSys}
}

// Address is (node_id, process_id).
type Address struct {
	Node      string
	ProcessID ProcessID
}

func (a Address) String() string {
	return fmt.Sprintf("%s@%s", a.Node, a.ProcessID.String())
}

// Parse parses the "node@process:package:publisher" wire form.
func Parse(s string) (Address, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return Address{}, fmt.Errorf("address: missing '@' in %q", s)
	}
	pid, err := ParseProcessID(s[at+1:])
	if err != nil {
		return Address{}, err
	}
	return Address{Node: s[:at], ProcessID: pid}, nil
}

// New is a convenience constructor.
func New(node string, pid ProcessID) Address {
	return Address{Node: node, ProcessID: pid}
}

// ReservedAt builds the address of a node-local runtime service on node.
func ReservedAt(node, service string) Address {
	return New(node, Reserved(service))
}
