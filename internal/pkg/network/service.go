// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package network implements the reserved `net` runtime service (spec
// §4.5): Noise-XX-encrypted WebSocket/TCP peer sessions, LRU-bounded peer
// eviction, routed (passthrough) sessions for indirect peers, and the
// NetAction request surface (GetPeers, GetPeer, GetName, GetDiagnostics).
package network

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flynn/noise"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/identity"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/kernel"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/message"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// NetAction is the net runtime service's JSON request surface (spec §6).
type NetAction struct {
	GetPeers       bool    `json:"get_peers,omitempty"`
	GetPeer        string  `json:"get_peer,omitempty"`
	GetNameHash    []byte  `json:"get_name,omitempty"`
	GetDiagnostics bool    `json:"get_diagnostics,omitempty"`
}

// PeerInfo is the msgpack-serialized response shape for GetPeer/GetPeers
// (spec §6: "responses are msgpack-serialized").
type PeerInfo struct {
	Name       string `msgpack:"name"`
	RoutingFor bool   `msgpack:"routing_for"`
}

// Diagnostics summarizes live session state for GetDiagnostics.
type Diagnostics struct {
	PeerCount        int `msgpack:"peer_count"`
	PassthroughCount int `msgpack:"passthrough_count"`
}

const (
	defaultMaxPeers        = 256
	defaultMaxPassthroughs = 64
)

// Service binds the reserved `net` address: it is both a kernel.Networker
// (outbound delivery to remote nodes) and a kernel.RuntimeService (inbound
// NetAction requests).
type Service struct {
	self       address.Address
	bus        *kernel.Bus
	pki        identity.PKI
	identityKey ed25519.PrivateKey
	staticKey  noise.DHKey

	peers        *Peers
	passthroughs *passthroughTable

	mu        sync.Mutex
	listening bool
}

// New constructs the net service. identityKey signs handshake payloads;
// staticKey is the node's Noise static keypair (spec §4.5).
func New(self address.Address, bus *kernel.Bus, pki identity.PKI, identityKey ed25519.PrivateKey, staticKey noise.DHKey) *Service {
	return &Service{
		self:         self,
		bus:          bus,
		pki:          pki,
		identityKey:  identityKey,
		staticKey:    staticKey,
		peers:        NewPeers(defaultMaxPeers),
		passthroughs: newPassthroughTable(defaultMaxPassthroughs),
	}
}

// Listen starts accepting inbound connections on both transports a direct
// identity advertises.
func (s *Service) Listen(ctx context.Context, wsAddr, tcpAddr string) error {
	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()

	if wsAddr != "" {
		if err := ListenWS(ctx, wsAddr, s.acceptResponder); err != nil {
			return err
		}
	}
	if tcpAddr != "" {
		if err := ListenTCP(ctx, tcpAddr, s.acceptResponder); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ourPayload(proxyRequest bool) HandshakePayload {
	sig := signHandshake(s.identityKey, s.staticKey.Public)
	return HandshakePayload{ProtocolVersion: protocolVersion, Name: s.self.Node, Signature: sig, ProxyRequest: proxyRequest}
}

// acceptResponder runs the responder side of a handshake on a freshly
// accepted connection and, on success, registers the resulting Peer.
func (s *Service) acceptResponder(conn Conn) {
	var remoteName string
	cp, err := runResponderHandshake(conn, s.staticKey, s.ourPayload(false), func(p HandshakePayload, peerStatic []byte) error {
		id, ok := s.pki.Lookup(p.Name)
		if !ok {
			return fmt.Errorf("network: unknown node %q in handshake", p.Name)
		}
		if !verifyPayloadSignature(ed25519.PublicKey(id.NetworkingPublicKey), peerStatic, p) {
			return fmt.Errorf("network: handshake signature mismatch for %q", p.Name)
		}
		remoteName = p.Name
		return nil
	})
	if err != nil {
		sylog.Warningf("network: inbound handshake failed: %v", err)
		_ = conn.Close()
		return
	}
	s.registerPeer(remoteName, conn, cp, false)
}

// Dial performs the initiator-side handshake against a direct peer and
// registers it. Indirect peers are reached via dialRouted instead.
func (s *Service) Dial(conn Conn, targetName string) (*Peer, error) {
	var ok bool
	cp, err := runInitiatorHandshake(conn, s.staticKey, s.ourPayload(false), func(p HandshakePayload, peerStatic []byte) error {
		id, found := s.pki.Lookup(targetName)
		if !found {
			return fmt.Errorf("network: unknown node %q", targetName)
		}
		if !verifyPayloadSignature(ed25519.PublicKey(id.NetworkingPublicKey), peerStatic, p) {
			return fmt.Errorf("network: handshake signature mismatch for %q", targetName)
		}
		ok = true
		return nil
	})
	if err != nil || !ok {
		_ = conn.Close()
		if err == nil {
			err = fmt.Errorf("network: handshake verification failed for %q", targetName)
		}
		return nil, err
	}
	return s.registerPeer(targetName, conn, cp, false), nil
}

func (s *Service) registerPeer(name string, conn Conn, cp cipherPair, routingFor bool) *Peer {
	p := &Peer{Name: name, RoutingFor: routingFor, conn: conn, send: make(chan message.KernelMessage, kernel.InboxCapacity), send1: cp, recv1: cp}
	p.touch()
	s.peers.Insert(p)
	go s.writeLoop(p)
	go s.readLoop(p)
	return p
}

// writeLoop drains a peer's outbound channel, encrypting and framing each
// KernelMessage (spec §4.5's per-peer send path).
func (s *Service) writeLoop(p *Peer) {
	for km := range p.send {
		plain, err := encodeKernelMessageFrame(km)
		if err != nil {
			sylog.Warningf("network: encoding outbound message to %s: %v", p.Name, err)
			continue
		}
		cipher := p.send1.tx.encrypt(nil, plain)
		if err := p.conn.WriteFrame(cipher); err != nil {
			sylog.Warningf("network: write to %s failed, removing peer: %v", p.Name, err)
			s.peers.Remove(p.Name)
			return
		}
		if km.LazyLoadBlob != nil {
			blobPlain, err := encodeBlobFrame(km.ID, *km.LazyLoadBlob)
			if err == nil {
				_ = p.conn.WriteFrame(p.send1.tx.encrypt(nil, blobPlain))
			}
		}
	}
}

// readLoop decodes inbound frames and forwards them into the local kernel
// bus, which handles routing (spec §4.5: "on receive... forwards it into
// the global kernel inbox, updating last_message").
func (s *Service) readLoop(p *Peer) {
	defer func() {
		s.peers.Remove(p.Name)
	}()
	for {
		cipher, err := p.conn.ReadFrame()
		if err != nil {
			sylog.Verbosef("network: peer %s connection closed: %v", p.Name, err)
			return
		}
		plain, err := p.recv1.rx.decrypt(nil, cipher)
		if err != nil {
			sylog.Warningf("network: decrypt failed from %s, dropping peer: %v", p.Name, err)
			return
		}
		km, err := decodeKernelMessageFrame(plain)
		if err != nil {
			sylog.Warningf("network: malformed frame from %s: %v", p.Name, err)
			continue
		}
		p.touch()
		s.peers.Touch(p.Name)
		if err := s.bus.Send(context.Background(), km); err != nil {
			sylog.Warningf("network: delivering inbound message from %s: %v", p.Name, err)
		}
	}
}

// Send implements kernel.Networker: push km onto the target's peer
// channel, dialing a fresh session (direct or routed) if none is open.
func (s *Service) Send(ctx context.Context, km message.KernelMessage) error {
	p, ok := s.peers.Get(km.Target.Node)
	if !ok {
		var err error
		p, err = s.connect(ctx, km.Target.Node)
		if err != nil {
			return fmt.Errorf("network: no session to %s: %w", km.Target.Node, err)
		}
	}
	select {
	case p.send <- km:
		return nil
	default:
		return fmt.Errorf("network: send queue to %s is full", km.Target.Node)
	}
}

// connect resolves targetName's Identity and opens a direct or routed
// session as appropriate (spec §4.5).
func (s *Service) connect(ctx context.Context, targetName string) (*Peer, error) {
	id, ok := s.pki.Lookup(targetName)
	if !ok {
		return nil, fmt.Errorf("network: %q not found in PKI", targetName)
	}
	if id.Routing.IsDirect() {
		return s.dialDirect(id)
	}
	return s.dialRouted(ctx, id)
}

func (s *Service) dialDirect(id identity.Identity) (*Peer, error) {
	if id.Routing.Ports.WS != 0 {
		conn, err := DialWS(fmt.Sprintf("ws://%s:%d", id.Routing.IP, id.Routing.Ports.WS))
		if err == nil {
			return s.Dial(conn, id.Name)
		}
	}
	if id.Routing.Ports.TCP != 0 {
		conn, err := DialTCP(fmt.Sprintf("%s:%d", id.Routing.IP, id.Routing.Ports.TCP))
		if err != nil {
			return nil, err
		}
		return s.Dial(conn, id.Name)
	}
	return nil, fmt.Errorf("network: %q advertises no usable port", id.Name)
}

// dialRouted implements the routed handshake (spec §4.5): pick a router we
// already have (or can open) a direct session with and send a
// RoutingRequest; a willing router opens a Passthrough on our behalf. This
// core only has the initiator's half to drive (the router's corresponding
// "accept a passthrough" path lives in acceptResponder + the router's own
// RoutingRequest handler, out of this initiator-facing entry point).
func (s *Service) dialRouted(ctx context.Context, id identity.Identity) (*Peer, error) {
	for _, router := range id.Routing.Routers {
		routerPeer, ok := s.peers.Get(router)
		if !ok {
			routerID, found := s.pki.Lookup(router)
			if !found || !routerID.Routing.IsDirect() {
				continue
			}
			var err error
			routerPeer, err = s.dialDirect(routerID)
			if err != nil {
				continue
			}
		}
		sig := ed25519.Sign(s.identityKey, []byte(id.Name+router))
		rr := RoutingRequest{ProtocolVersion: protocolVersion, Source: s.self.Node, Signature: sig, Target: id.Name}
		body, err := msgpack.Marshal(rr)
		if err != nil {
			return nil, err
		}
		req := message.Request{Body: body}
		km := message.KernelMessage{ID: s.bus.NextID(), Source: s.self, Target: address.ReservedAt(router, address.ProcessNet), Message: message.Message{Request: &req}}
		if err := s.Send(ctx, km); err != nil {
			continue
		}
		return routerPeer, nil
	}
	return nil, fmt.Errorf("network: no router of %q is reachable", id.Name)
}

// Handle implements kernel.RuntimeService for NetAction requests
// (spec §6).
func (s *Service) Handle(km message.KernelMessage) {
	req := km.Message.Request
	if req == nil {
		return
	}
	var action NetAction
	if err := json.Unmarshal(req.Body, &action); err != nil {
		sylog.Warningf("network: malformed NetAction from %s: %v", km.Source, err)
		return
	}

	var respBody []byte
	var err error
	switch {
	case action.GetPeers:
		respBody, err = msgpack.Marshal(s.peerInfos(s.peers.All()))
	case action.GetPeer != "":
		if p, ok := s.peers.Get(action.GetPeer); ok {
			respBody, err = msgpack.Marshal(PeerInfo{Name: p.Name, RoutingFor: p.RoutingFor})
		} else {
			respBody, err = msgpack.Marshal((*PeerInfo)(nil))
		}
	case len(action.GetNameHash) == 32:
		var hash [32]byte
		copy(hash[:], action.GetNameHash)
		if id, ok := s.pki.LookupByNamehash(hash); ok {
			respBody, err = msgpack.Marshal(id.Name)
		} else {
			respBody, err = msgpack.Marshal("")
		}
	case action.GetDiagnostics:
		respBody, err = msgpack.Marshal(Diagnostics{PeerCount: s.peers.Len(), PassthroughCount: s.passthroughs.Len()})
	default:
		return
	}
	if err != nil {
		sylog.Warningf("network: marshaling NetAction response: %v", err)
		return
	}
	if req.ExpectsResponse == nil {
		return
	}
	resp := message.Response{Body: respBody}
	reply := message.KernelMessage{ID: km.ID, Source: s.self, Target: km.ReplyTo(), Message: message.Message{Response: &resp}}
	if err := s.bus.Send(context.Background(), reply); err != nil {
		sylog.Warningf("network: replying to NetAction: %v", err)
	}
}

func (s *Service) peerInfos(names []string) []PeerInfo {
	out := make([]PeerInfo, 0, len(names))
	for _, n := range names {
		if p, ok := s.peers.Get(n); ok {
			out = append(out, PeerInfo{Name: p.Name, RoutingFor: p.RoutingFor})
		}
	}
	return out
}
