/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"
	"net/netip"
	"testing"
)

func TestParseInnerPacketIPv4(t *testing.T) {
	pkt := buildIPv4(netip.MustParseAddr("10.1.2.3"), netip.MustParseAddr("10.4.5.6"), 120)
	inner, ok := parseInnerPacket(pkt)
	if !ok {
		t.Fatal("valid IPv4 packet rejected")
	}
	if inner.src != netip.MustParseAddr("10.1.2.3") {
		t.Errorf("src = %v", inner.src)
	}
	if inner.dst != netip.MustParseAddr("10.4.5.6") {
		t.Errorf("dst = %v", inner.dst)
	}
	if inner.totalLen != 120 {
		t.Errorf("totalLen = %d", inner.totalLen)
	}
}

func TestParseInnerPacketIPv6(t *testing.T) {
	pkt := make([]byte, IPv6headerSize+13)
	pkt[0] = 0x60
	binary.BigEndian.PutUint16(pkt[IPv6offsetPayloadLength:], 13)
	src := netip.MustParseAddr("fd00::1")
	dst := netip.MustParseAddr("fd00::2")
	s16, d16 := src.As16(), dst.As16()
	copy(pkt[IPv6offsetSrc:], s16[:])
	copy(pkt[IPv6offsetDst:], d16[:])

	inner, ok := parseInnerPacket(pkt)
	if !ok {
		t.Fatal("valid IPv6 packet rejected")
	}
	if inner.src != src || inner.dst != dst {
		t.Errorf("addresses = %v -> %v", inner.src, inner.dst)
	}
	if inner.totalLen != IPv6headerSize+13 {
		t.Errorf("totalLen = %d", inner.totalLen)
	}
}

func TestParseInnerPacketGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		{0x45},                          // IPv4 nibble but truncated header
		func() []byte { b := make([]byte, 19); b[0] = 0x45; return b }(), // one short of an IPv4 header
		append([]byte{0x60}, make([]byte, 10)...), // truncated IPv6
		func() []byte { b := make([]byte, 40); b[0] = 0x50; return b }(), // version 5
	}
	for i, pkt := range cases {
		if _, ok := parseInnerPacket(pkt); ok {
			t.Errorf("case %d: garbage accepted", i)
		}
	}
}
