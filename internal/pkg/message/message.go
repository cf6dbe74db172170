// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package message defines the wire-level data model (spec §3): the
// Request/Response Message union, the Capability a message may carry, the
// lazy-load blob, and the KernelMessage envelope the bus (internal/pkg/kernel)
// routes. Capability params are treated as opaque bytes here — string
// equality only, per the design note in spec §9 — typed wrappers belong in
// each service, not this package.
package message

import (
	"bytes"
	"fmt"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
)

// Capability is an unforgeable token `(issuer, params)`. Params is opaque
// (conventionally JSON) and compared only for byte equality.
type Capability struct {
	Issuer address.Address `msgpack:"issuer"`
	Params []byte          `msgpack:"params"`
	// Signature, when non-nil, is the issuer node's Ed25519 signature over
	// msgpack(issuer, params) — present only once a capability has been
	// transferred across a node boundary (spec §3, §4.2).
	Signature []byte `msgpack:"signature,omitempty"`
}

// Key returns the (issuer, params) de-duplication key the kernel uses to
// treat capability sets as sets rather than multisets.
func (c Capability) Key() string {
	return c.Issuer.String() + "\x00" + string(c.Params)
}

// Equal compares issuer and params only; signatures are transport-only
// decoration and never affect identity.
func (c Capability) Equal(o Capability) bool {
	return c.Issuer == o.Issuer && bytes.Equal(c.Params, o.Params)
}

func (c Capability) String() string {
	return fmt.Sprintf("%s:%s", c.Issuer, c.Params)
}

// Blob is a lazy-load payload kept out of a Message's body so it can be
// forwarded cheaply without being parsed.
type Blob struct {
	Mime  string `msgpack:"mime"`
	Bytes []byte `msgpack:"bytes"`
}

// Request is sent expecting, optionally, a correlated Response.
type Request struct {
	Inherit         bool         `msgpack:"inherit"`
	ExpectsResponse *uint64      `msgpack:"expects_response,omitempty"` // millis
	Body            []byte       `msgpack:"body"`
	Metadata        *string      `msgpack:"metadata,omitempty"`
	Capabilities    []Capability `msgpack:"capabilities,omitempty"`
}

// Response answers a prior Request with the same KernelMessage id.
type Response struct {
	Inherit      bool         `msgpack:"inherit"`
	Body         []byte       `msgpack:"body"`
	Metadata     *string      `msgpack:"metadata,omitempty"`
	Capabilities []Capability `msgpack:"capabilities,omitempty"`
}

// Message is the Request/Response union carried by a KernelMessage.
type Message struct {
	Request  *Request  `msgpack:"request,omitempty"`
	Response *Response `msgpack:"response,omitempty"`
}

// IsRequest / IsResponse are convenience discriminators.
func (m Message) IsRequest() bool  { return m.Request != nil }
func (m Message) IsResponse() bool { return m.Response != nil }

// Inherit returns the inherit flag regardless of which arm is set.
func (m Message) Inherit() bool {
	if m.Request != nil {
		return m.Request.Inherit
	}
	if m.Response != nil {
		return m.Response.Inherit
	}
	return false
}

// Capabilities returns the capability list regardless of which arm is set.
func (m Message) Capabilities() []Capability {
	if m.Request != nil {
		return m.Request.Capabilities
	}
	if m.Response != nil {
		return m.Response.Capabilities
	}
	return nil
}

// WithCapabilities returns a copy of m with its capability list replaced —
// used by the bus after stripping invalid capabilities (spec §4.1).
func (m Message) WithCapabilities(caps []Capability) Message {
	switch {
	case m.Request != nil:
		r := *m.Request
		r.Capabilities = caps
		return Message{Request: &r}
	case m.Response != nil:
		r := *m.Response
		r.Capabilities = caps
		return Message{Response: &r}
	}
	return m
}

// KernelMessage is the single routed envelope through which all
// communication flows (spec §3).
type KernelMessage struct {
	ID            uint64          `msgpack:"id"`
	Source        address.Address `msgpack:"source"`
	Target        address.Address `msgpack:"target"`
	Rsvp          *address.Address `msgpack:"rsvp,omitempty"`
	Message       Message         `msgpack:"message"`
	LazyLoadBlob  *Blob           `msgpack:"lazy_load_blob,omitempty"`
}

// ReplyTo returns the address a Response to this message must be delivered
// to: the rsvp if set, else the source.
func (km KernelMessage) ReplyTo() address.Address {
	if km.Rsvp != nil {
		return *km.Rsvp
	}
	return km.Source
}
