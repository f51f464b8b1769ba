/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package conn implements the datagram transport underneath the tunnel
// core. The core hands fully formed WireGuard messages to a Bind and
// receives raw datagrams plus their source address back; everything about
// sockets, routing and interface selection stays on this side of the
// boundary.
package conn

import (
	"errors"
	"net/netip"
)

var (
	// ErrBindClosed is returned by Receive and Send after Close.
	ErrBindClosed = errors.New("bind is closed")
	// ErrBindAlreadyOpen is returned by Open on an open bind.
	ErrBindAlreadyOpen = errors.New("bind is already open")
)

// A Bind sends and receives UDP datagrams on behalf of one interface.
//
// Receive blocks until a datagram arrives and must tolerate arbitrary
// source addresses; the core authenticates, the bind does not.
type Bind interface {
	// Open binds to the requested port (0 picks one) and returns the
	// port actually bound.
	Open(port uint16) (actualPort uint16, err error)

	// Receive copies the next datagram into buf and reports its length
	// and source address.
	Receive(buf []byte) (n int, src netip.AddrPort, err error)

	// Send transmits one datagram to the given endpoint.
	Send(b []byte, ep netip.AddrPort) error

	Close() error
}
