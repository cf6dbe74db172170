// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package network

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// ListenTCP accepts raw TCP connections on addr and hands each to accept as
// a Conn, until ctx is cancelled.
func ListenTCP(ctx context.Context, addr string, accept func(Conn)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("network: listening on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sylog.Warningf("network: tcp accept: %v", err)
				continue
			}
			go accept(newTCPConn(c))
		}
	}()
	return nil
}

// ListenWS serves WebSocket upgrades on addr (a direct node's advertised WS
// port, spec §4.5), handing each accepted session to accept.
func ListenWS(ctx context.Context, addr string, accept func(Conn)) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sylog.Warningf("network: ws upgrade: %v", err)
			return
		}
		go accept(newWSConn(c))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
			sylog.Errorf("network: ws listener exited: %v", err)
		}
	}()
	return nil
}
