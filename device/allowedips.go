/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "net/netip"

/* Cryptokey routing, reduced to the point-to-point case: every peer
 * carries a short list of CIDRs. On receive the list answers "may this
 * peer source this inner address", on send it answers "which peer owns
 * this inner destination". The list is bounded by MaxAllowedIPs so a
 * linear scan is the whole data structure.
 */

// allowedIP reports whether addr falls inside one of the peer's
// configured prefixes of the same family.
func (peer *Peer) allowedIP(addr netip.Addr) bool {
	for _, prefix := range peer.allowedIPs {
		if prefix.Addr().Is4() != addr.Is4() {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowedIPs returns a copy of the peer's configured prefixes.
func (peer *Peer) AllowedIPs() []netip.Prefix {
	peer.device.mu.Lock()
	defer peer.device.mu.Unlock()
	out := make([]netip.Prefix, len(peer.allowedIPs))
	copy(out, peer.allowedIPs)
	return out
}

// routeToPeer finds the peer whose allowed IPs contain the destination of
// an outbound inner packet. Caller holds the device mutex.
func (device *Device) routeToPeer(dst netip.Addr) *Peer {
	for _, peer := range device.peers {
		if peer.allowedIP(dst) {
			return peer
		}
	}
	return nil
}
