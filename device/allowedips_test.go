/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"testing"
)

func TestAllowedIPMatching(t *testing.T) {
	peer := &Peer{
		allowedIPs: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/24"),
			netip.MustParsePrefix("192.168.4.10/32"),
			netip.MustParsePrefix("fd00:aa::/64"),
		},
	}

	cases := []struct {
		addr string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.0.0.255", true},
		{"10.0.1.1", false},
		{"192.168.4.10", true},
		{"192.168.4.11", false},
		{"fd00:aa::1234", true},
		{"fd00:ab::1", false},
		{"::ffff:10.0.0.1", false}, // mapped form is not an IPv4 match
	}
	for _, c := range cases {
		if got := peer.allowedIP(netip.MustParseAddr(c.addr)); got != c.want {
			t.Errorf("allowedIP(%s) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestRouteToPeer(t *testing.T) {
	a, _, peerAB, _ := newHandshakeDevices(t)
	peerAB.allowedIPs = []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")}

	a.dev.mu.Lock()
	defer a.dev.mu.Unlock()

	if got := a.dev.routeToPeer(netip.MustParseAddr("10.0.0.7")); got != peerAB {
		t.Error("destination inside allowed ips did not route to the peer")
	}
	if got := a.dev.routeToPeer(netip.MustParseAddr("172.16.0.1")); got != nil {
		t.Error("destination outside every allowed ip routed somewhere")
	}
}
