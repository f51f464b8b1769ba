/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"
	"net/netip"
)

/* The inner packets are parsed with fixed offsets instead of a full
 * header decode; only the version nibble, addresses and total length are
 * ever needed.
 */

const (
	IPv4offsetTotalLength = 2
	IPv4offsetSrc         = 12
	IPv4offsetDst         = IPv4offsetSrc + 4

	IPv4headerSize = 20
)

const (
	IPv6offsetPayloadLength = 4
	IPv6offsetSrc           = 8
	IPv6offsetDst           = IPv6offsetSrc + 16

	IPv6headerSize = 40
)

// innerPacket is the result of inspecting a decrypted transport payload.
type innerPacket struct {
	src      netip.Addr
	dst      netip.Addr
	totalLen int
}

// parseInnerPacket reads the version nibble, addresses and the total
// length the header claims. It does not validate checksums or options.
func parseInnerPacket(pkt []byte) (inner innerPacket, ok bool) {
	if len(pkt) < 1 {
		return inner, false
	}
	switch pkt[0] >> 4 {
	case 4:
		if len(pkt) < IPv4headerSize {
			return inner, false
		}
		inner.src = netip.AddrFrom4([4]byte(pkt[IPv4offsetSrc : IPv4offsetSrc+4]))
		inner.dst = netip.AddrFrom4([4]byte(pkt[IPv4offsetDst : IPv4offsetDst+4]))
		inner.totalLen = int(binary.BigEndian.Uint16(pkt[IPv4offsetTotalLength:]))
		return inner, true
	case 6:
		if len(pkt) < IPv6headerSize {
			return inner, false
		}
		inner.src = netip.AddrFrom16([16]byte(pkt[IPv6offsetSrc : IPv6offsetSrc+16]))
		inner.dst = netip.AddrFrom16([16]byte(pkt[IPv6offsetDst : IPv6offsetDst+16]))
		inner.totalLen = int(binary.BigEndian.Uint16(pkt[IPv6offsetPayloadLength:])) + IPv6headerSize
		return inner, true
	}
	return inner, false
}
