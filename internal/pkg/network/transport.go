// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Transports: WebSocket and raw TCP (spec §4.5). Both are adapted to the
// Conn interface so the handshake and per-peer send/receive loops are
// transport-agnostic.
package network

import (
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// tcpConn adapts a raw net.Conn to Conn using the length-prefixed frame
// helpers in wire.go.
type tcpConn struct {
	c net.Conn
}

func newTCPConn(c net.Conn) Conn { return &tcpConn{c: c} }

func (t *tcpConn) ReadFrame() ([]byte, error)    { return readFrame(t.c) }
func (t *tcpConn) WriteFrame(b []byte) error      { return writeFrame(t.c, b) }
func (t *tcpConn) Close() error                   { return t.c.Close() }

// DialTCP opens a raw TCP connection to a direct peer's advertised TCP
// port.
func DialTCP(addr string) (Conn, error) {
	c, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return newTCPConn(c), nil
}

// wsConn adapts a gorilla websocket connection to Conn. Noise frames are
// carried one-per-binary-message; the websocket framing itself already
// delimits messages, so WriteFrame/ReadFrame skip the 4-byte length prefix
// used by the raw-TCP path and send the payload directly.
type wsConn struct {
	c *websocket.Conn
}

func newWSConn(c *websocket.Conn) Conn { return &wsConn{c: c} }

func (w *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) WriteFrame(b []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsConn) Close() error { return w.c.Close() }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// DialWS opens a WebSocket connection to a direct peer's advertised WS
// port.
func DialWS(url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(c), nil
}
