// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package message

import (
	"encoding/json"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
)

// SendErrorKind enumerates the two ways a Request can fail to produce a
// genuine Response (spec §7).
type SendErrorKind string

const (
	SendErrorOffline SendErrorKind = "Offline"
	SendErrorTimeout SendErrorKind = "Timeout"
)

// SendError is synthesized by the bus and delivered as an ordinary
// Response body; it never unwinds the kernel (spec §4.1, §7).
type SendError struct {
	Kind    SendErrorKind `json:"kind"`
	Target  address.Address `json:"target"`
	Message KernelMessage `json:"message"`
}

// Body marshals the SendError as the JSON body convention used by
// process-to-service messages (spec §6).
func (e SendError) Body() []byte {
	b, _ := json.Marshal(e)
	return b
}

// SynthesizeResponse builds the Response KernelMessage the bus delivers in
// place of a real reply: same id, target is the original reply-to address,
// source is the runtime component that gave up on the request ("kernel").
func SynthesizeResponse(req KernelMessage, kind SendErrorKind, from address.Address) KernelMessage {
	body := SendError{Kind: kind, Target: req.Target, Message: req}.Body()
	return KernelMessage{
		ID:     req.ID,
		Source: from,
		Target: req.ReplyTo(),
		Message: Message{Response: &Response{
			Inherit: false,
			Body:    body,
		}},
	}
}
