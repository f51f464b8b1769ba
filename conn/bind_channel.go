/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"net/netip"
	"sync"
)

// ChannelNetwork is an in-memory fabric connecting ChannelBinds. It exists
// so that two interfaces can be wired back to back in tests without
// touching a socket.
type ChannelNetwork struct {
	mu    sync.Mutex
	binds map[netip.AddrPort]*ChannelBind

	// Intercept, when set, observes every datagram in flight. Returning
	// false drops the datagram. Tests use this to capture or disturb
	// traffic.
	Intercept func(src, dst netip.AddrPort, payload []byte) bool
}

func NewChannelNetwork() *ChannelNetwork {
	return &ChannelNetwork{binds: make(map[netip.AddrPort]*ChannelBind)}
}

// NewBind attaches a bind to the fabric at the given address.
func (n *ChannelNetwork) NewBind(addr netip.AddrPort) *ChannelBind {
	b := &ChannelBind{
		net:   n,
		addr:  addr,
		inbox: make(chan pendingDatagram, 128),
	}
	n.mu.Lock()
	n.binds[addr] = b
	n.mu.Unlock()
	return b
}

// Deliver injects a raw datagram as if it arrived from src. Tests use it
// to replay captured traffic.
func (n *ChannelNetwork) Deliver(src, dst netip.AddrPort, payload []byte) bool {
	n.mu.Lock()
	b := n.binds[dst]
	n.mu.Unlock()
	if b == nil {
		return false
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	select {
	case b.inbox <- pendingDatagram{data: data, src: src}:
		return true
	default:
		return false
	}
}

// ChannelBind implements Bind over an in-memory channel.
type ChannelBind struct {
	net    *ChannelNetwork
	addr   netip.AddrPort
	inbox  chan pendingDatagram
	mu     sync.Mutex
	closed bool
}

func (b *ChannelBind) Open(port uint16) (uint16, error) {
	return b.addr.Port(), nil
}

// TryReceive is the non-blocking variant of Receive, for tests that pump
// traffic by hand.
func (b *ChannelBind) TryReceive(buf []byte) (n int, src netip.AddrPort, ok bool) {
	select {
	case d, open := <-b.inbox:
		if !open {
			return 0, netip.AddrPort{}, false
		}
		return copy(buf, d.data), d.src, true
	default:
		return 0, netip.AddrPort{}, false
	}
}

func (b *ChannelBind) Receive(buf []byte) (int, netip.AddrPort, error) {
	d, ok := <-b.inbox
	if !ok {
		return 0, netip.AddrPort{}, ErrBindClosed
	}
	n := copy(buf, d.data)
	return n, d.src, nil
}

func (b *ChannelBind) Send(data []byte, ep netip.AddrPort) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBindClosed
	}
	if fn := b.net.Intercept; fn != nil {
		if !fn(b.addr, ep, data) {
			return nil
		}
	}
	b.net.Deliver(b.addr, ep, data)
	return nil
}

func (b *ChannelBind) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbox)
		b.net.mu.Lock()
		delete(b.net.binds, b.addr)
		b.net.mu.Unlock()
	}
	return nil
}
