// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package registry

// Close codes mirrored from RFC 6455 so callers outside the transport
// package do not need to import gorilla/websocket for them.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Conn is a single live client device connection. Sessions own the
// connection for its lifetime; the registry and broadcast engine only hold
// references. SendText must be safe for concurrent use: broadcasts arrive
// from other sessions' goroutines.
type Conn interface {
	// SendText writes one text frame. A returned error means the
	// connection is dead and the caller should evict it.
	SendText(data []byte) error

	// Close performs the close handshake with the given code and reason.
	// Safe to call more than once.
	Close(code int, reason string) error
}
