/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package tun

import "sync"

// ChannelDevice is an in-memory Device for tests: packets pushed with
// Outbound come back from Read, packets passed to Write land on Inbound.
type ChannelDevice struct {
	Outbound chan []byte
	Inbound  chan []byte

	mtu    int
	mu     sync.Mutex
	closed bool
}

func NewChannelDevice(mtu int) *ChannelDevice {
	return &ChannelDevice{
		Outbound: make(chan []byte, 64),
		Inbound:  make(chan []byte, 64),
		mtu:      mtu,
	}
}

func (d *ChannelDevice) Read(buf []byte) (int, error) {
	pkt, ok := <-d.Outbound
	if !ok {
		return 0, ErrDeviceClosed
	}
	return copy(buf, pkt), nil
}

func (d *ChannelDevice) Write(packet []byte) (int, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return 0, ErrDeviceClosed
	}
	data := make([]byte, len(packet))
	copy(data, packet)
	select {
	case d.Inbound <- data:
		return len(packet), nil
	default:
		// The host stack refused the packet; drop it, the tunnel
		// never blocks on delivery.
		return 0, nil
	}
}

func (d *ChannelDevice) MTU() int { return d.mtu }

func (d *ChannelDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.Outbound)
	}
	return nil
}
