/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"testing"
	"time"
)

func TestCookieMAC1(t *testing.T) {
	a, b, peerAB, _ := newHandshakeDevices(t)
	now := a.dev.timeNow()

	// A message A sends to B, mac'd with the label key derived from B's
	// public key, must verify against B's checker.
	packet := make([]byte, MessageInitiationSize)
	for i := range packet {
		packet[i] = byte(i)
	}
	peerAB.addMacs(packet, now)

	if !b.dev.checkMAC1(packet) {
		t.Fatal("mac1 does not verify")
	}

	packet[5] ^= 0x20
	if b.dev.checkMAC1(packet) {
		t.Fatal("mac1 still verifies after mutating the message")
	}
	packet[5] ^= 0x20

	packet[MessageInitiationSize-2*CookieSize] ^= 0x01
	if b.dev.checkMAC1(packet) {
		t.Fatal("mac1 still verifies after mutating mac1")
	}
}

func TestCookieExchange(t *testing.T) {
	a, b, peerAB, _ := newHandshakeDevices(t)
	now := a.dev.timeNow()
	src := netip.MustParseAddrPort("192.0.2.10:1")

	packet := make([]byte, MessageInitiationSize)
	for i := range packet {
		packet[i] = byte(7 * i)
	}
	peerAB.addMacs(packet, now)

	// Without a cookie mac2 is zero and must not verify under load.
	if b.dev.checkMAC2(packet, src, now) {
		t.Fatal("zero mac2 verified")
	}

	// B mints a cookie reply bound to the cached mac1 and the source.
	startMAC1 := MessageInitiationSize - 2*CookieSize
	reply, err := b.dev.createCookieReply(packet[startMAC1:startMAC1+CookieSize], 0x42, src, now)
	if err != nil {
		t.Fatal(err)
	}

	if !peerAB.consumeCookieReply(reply, now) {
		t.Fatal("failed to consume own cookie reply")
	}

	// Replaying the same cookie reply fails: mac1 binding is single-use.
	if peerAB.consumeCookieReply(reply, now) {
		t.Fatal("cookie reply consumed twice")
	}

	// The next message carries a valid mac2.
	peerAB.addMacs(packet, now)
	if !b.dev.checkMAC2(packet, src, now) {
		t.Fatal("mac2 does not verify")
	}

	// The cookie is bound to the source address.
	other := netip.MustParseAddrPort("192.0.2.99:9999")
	if b.dev.checkMAC2(packet, other, now) {
		t.Fatal("mac2 verified from a different source")
	}

	// And it ages out after CookieRefreshTime on the sender: a fresh
	// message mac'd later carries a zero mac2 again.
	later := now.Add(CookieRefreshTime + time.Second)
	fresh := make([]byte, MessageInitiationSize)
	copy(fresh, packet[:MessageInitiationSize-2*CookieSize])
	peerAB.addMacs(fresh, later)
	var zero [CookieSize]byte
	startMAC2 := MessageInitiationSize - CookieSize
	if string(fresh[startMAC2:]) != string(zero[:]) {
		t.Fatal("expired cookie still produces a mac2")
	}
}

func TestCookieReplyWrongMAC1(t *testing.T) {
	a, b, peerAB, _ := newHandshakeDevices(t)
	now := a.dev.timeNow()
	src := netip.MustParseAddrPort("192.0.2.10:1")

	packet := make([]byte, MessageInitiationSize)
	peerAB.addMacs(packet, now)

	// A reply bound to a different mac1 must not decrypt.
	var bogusMAC1 [CookieSize]byte
	bogusMAC1[3] = 0xaa
	reply, err := b.dev.createCookieReply(bogusMAC1[:], 0x42, src, now)
	if err != nil {
		t.Fatal(err)
	}
	if peerAB.consumeCookieReply(reply, now) {
		t.Fatal("cookie reply with mismatched mac1 accepted")
	}
}
