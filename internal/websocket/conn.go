// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package websocket adapts a gorilla/websocket connection to the session
// transport. Gorilla permits at most one concurrent writer, so every write
// here goes through one mutex; broadcasts from other sessions' goroutines
// and the session's own replies serialize on it.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read
	// side gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize caps one inbound frame.
	maxFrameSize = 64 * 1024
)

// Conn wraps one upgraded connection.
type Conn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewConn wraps an upgraded gorilla connection and starts its keepalive.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxFrameSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &Conn{ws: ws, done: make(chan struct{})}
	go c.pingLoop()
	return c
}

// SendText writes one text frame. Safe for concurrent use.
func (c *Conn) SendText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close performs the close handshake once; later calls are no-ops.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	return c.ws.Close()
}

// ReadText blocks until the next text frame. A context deadline becomes the
// read deadline; without one the keepalive window applies. Control frames
// and non-text frames are skipped.
func (c *Conn) ReadText(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(pongWait)
		}
		if err := c.ws.SetReadDeadline(deadline); err != nil {
			return nil, err
		}

		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// pingLoop keeps intermediaries from timing out idle connections.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
