/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv6"
)

// batchSize is how many datagrams one ReadBatch call may return. Reads are
// batched to amortize syscall cost under load; Receive then hands them to
// the caller one at a time.
const batchSize = 8

// StdNetBind implements Bind over a single dual-stack UDP socket from the
// standard library, with batched receives via x/net.
type StdNetBind struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	pc      *ipv6.PacketConn
	pending []pendingDatagram
	msgs    []ipv6.Message
}

type pendingDatagram struct {
	data []byte
	src  netip.AddrPort
}

func NewStdNetBind() Bind {
	return &StdNetBind{}
}

func (b *StdNetBind) Open(port uint16) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return 0, ErrBindAlreadyOpen
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return 0, err
	}

	b.conn = conn
	b.pc = ipv6.NewPacketConn(conn)
	b.msgs = make([]ipv6.Message, batchSize)
	for i := range b.msgs {
		b.msgs[i].Buffers = [][]byte{make([]byte, 65535)}
	}

	return uint16(conn.LocalAddr().(*net.UDPAddr).Port), nil
}

func (b *StdNetBind) Receive(buf []byte) (int, netip.AddrPort, error) {
	for {
		b.mu.Lock()
		if len(b.pending) > 0 {
			d := b.pending[0]
			b.pending = b.pending[1:]
			b.mu.Unlock()
			n := copy(buf, d.data)
			return n, d.src, nil
		}
		pc := b.pc
		msgs := b.msgs
		b.mu.Unlock()

		if pc == nil {
			return 0, netip.AddrPort{}, ErrBindClosed
		}

		n, err := pc.ReadBatch(msgs, 0)
		if err != nil {
			return 0, netip.AddrPort{}, err
		}

		b.mu.Lock()
		for i := 0; i < n; i++ {
			msg := &msgs[i]
			udpAddr, ok := msg.Addr.(*net.UDPAddr)
			if !ok {
				continue
			}
			src := udpAddr.AddrPort()
			if src.Addr().Is4In6() {
				src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
			}
			data := make([]byte, msg.N)
			copy(data, msg.Buffers[0][:msg.N])
			b.pending = append(b.pending, pendingDatagram{data: data, src: src})
		}
		b.mu.Unlock()
	}
}

func (b *StdNetBind) Send(data []byte, ep netip.AddrPort) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return ErrBindClosed
	}
	_, err := conn.WriteToUDPAddrPort(data, ep)
	return err
}

func (b *StdNetBind) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.conn != nil {
		err = b.conn.Close()
	}
	b.conn = nil
	b.pc = nil
	b.pending = nil
	return err
}
