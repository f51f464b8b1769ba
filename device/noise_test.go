/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"bytes"
	"net/netip"
	"testing"
	"time"

	"github.com/nordwire/wgcore/conn"
)

func assertEqual(t *testing.T, a, b []byte) {
	t.Helper()
	if !bytes.Equal(a, b) {
		t.Fatal(a, "!=", b)
	}
}

func TestCurveWrappers(t *testing.T) {
	sk1, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	sk2, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	pk1 := sk1.publicKey()
	pk2 := sk2.publicKey()

	ss1, err1 := sk1.sharedSecret(pk2)
	ss2, err2 := sk2.sharedSecret(pk1)

	if ss1 != ss2 || err1 != nil || err2 != nil {
		t.Fatal("X25519 is not commutative")
	}
}

func TestKDFChaining(t *testing.T) {
	key := []byte("test key 123")
	input := []byte("input data")

	var t0a, t1a, t2a [32]byte
	var t0b, t1b [32]byte
	var t0c [32]byte

	KDF3(&t0a, &t1a, &t2a, key, input)
	KDF2(&t0b, &t1b, key, input)
	KDF1(&t0c, key, input)

	// The shorter derivations are prefixes of the longer ones.
	assertEqual(t, t0a[:], t0b[:])
	assertEqual(t, t1a[:], t1b[:])
	assertEqual(t, t0b[:], t0c[:])

	if t1a == t0a || t2a == t1a {
		t.Fatal("KDF outputs repeat")
	}
}

func newHandshakeDevices(t *testing.T) (a, b *testNode, peerAB, peerBA *Peer) {
	t.Helper()
	network := conn.NewChannelNetwork()
	clock := newFakeClock()
	a = newTestNode(t, network, netip.MustParseAddrPort("192.0.2.10:1"), clock)
	b = newTestNode(t, network, netip.MustParseAddrPort("192.0.2.11:2"), clock)

	var err error
	peerAB, err = a.dev.AddPeer(PeerConfig{PublicKey: b.dev.PublicKey(), Endpoint: b.addr})
	if err != nil {
		t.Fatal(err)
	}
	peerBA, err = b.dev.AddPeer(PeerConfig{PublicKey: a.dev.PublicKey(), Endpoint: a.addr})
	if err != nil {
		t.Fatal(err)
	}
	return
}

// Drive the handshake engine directly, with the codec in the path, and
// verify the derived symmetric sessions agree.
func TestNoiseHandshake(t *testing.T) {
	a, b, peerAB, peerBA := newHandshakeDevices(t)
	now := a.dev.timeNow()

	// initiation A -> B, through marshal/unmarshal
	msg1, err := a.dev.createInitiation(peerAB, now)
	if err != nil {
		t.Fatal(err)
	}
	var pkt1 [MessageInitiationSize]byte
	if err := msg1.marshal(pkt1[:]); err != nil {
		t.Fatal(err)
	}
	var recv1 MessageInitiation
	if err := recv1.unmarshal(pkt1[:]); err != nil {
		t.Fatal(err)
	}

	consumedPeer, err := b.dev.consumeInitiation(&recv1, now)
	if err != nil {
		t.Fatal("failed to consume initiation:", err)
	}
	if consumedPeer != peerBA {
		t.Fatal("initiation resolved to the wrong peer")
	}

	assertEqual(t, peerAB.handshake.chainKey[:], peerBA.handshake.chainKey[:])
	assertEqual(t, peerAB.handshake.hash[:], peerBA.handshake.hash[:])

	// response B -> A
	msg2, err := b.dev.createResponse(peerBA)
	if err != nil {
		t.Fatal(err)
	}
	var pkt2 [MessageResponseSize]byte
	if err := msg2.marshal(pkt2[:]); err != nil {
		t.Fatal(err)
	}
	var recv2 MessageResponse
	if err := recv2.unmarshal(pkt2[:]); err != nil {
		t.Fatal(err)
	}

	respondedPeer, err := a.dev.consumeResponse(&recv2)
	if err != nil {
		t.Fatal("failed to consume response:", err)
	}
	if respondedPeer != peerAB {
		t.Fatal("response resolved to the wrong peer")
	}

	assertEqual(t, peerAB.handshake.chainKey[:], peerBA.handshake.chainKey[:])

	// derive keypairs on both ends
	if err := peerAB.beginSession(now); err != nil {
		t.Fatal(err)
	}
	if err := peerBA.beginSession(now); err != nil {
		t.Fatal(err)
	}

	keyA := peerAB.keypairs.Current() // initiator installs to current
	keyB := peerBA.keypairs.next      // responder parks in next
	if keyA == nil || keyB == nil {
		t.Fatal("missing keypair after session start")
	}
	if !keyA.isInitiator || keyB.isInitiator {
		t.Fatal("initiator flags are wrong")
	}
	if keyA.remoteIndex != keyB.localIndex || keyB.remoteIndex != keyA.localIndex {
		t.Fatal("session indices do not cross-reference")
	}

	// handshake state is wiped on promotion
	if peerAB.handshake.isValid || peerBA.handshake.isValid {
		t.Fatal("handshake still valid after promotion")
	}
	if !isZero(peerAB.handshake.chainKey[:]) {
		t.Fatal("chaining key not wiped")
	}

	// A -> B
	func() {
		testMsg := []byte("wireguard test message 1")
		nonce := aeadNonce(0)
		var sealed []byte
		sealed = keyA.send.Seal(sealed, nonce[:], testMsg, nil)
		opened, err := keyB.receive.Open(nil, nonce[:], sealed, nil)
		if err != nil {
			t.Fatal("failed to decrypt")
		}
		assertEqual(t, opened, testMsg)
	}()

	// B -> A
	func() {
		testMsg := []byte("wireguard test message 2")
		nonce := aeadNonce(0)
		var sealed []byte
		sealed = keyB.send.Seal(sealed, nonce[:], testMsg, nil)
		opened, err := keyA.receive.Open(nil, nonce[:], sealed, nil)
		if err != nil {
			t.Fatal("failed to decrypt")
		}
		assertEqual(t, opened, testMsg)
	}()
}

// A handshake with a preshared key only completes when both sides share
// it.
func TestNoiseHandshakePresharedKey(t *testing.T) {
	a, b, peerAB, peerBA := newHandshakeDevices(t)
	now := a.dev.timeNow()

	var psk NoisePresharedKey
	if err := randBytes(psk[:]); err != nil {
		t.Fatal(err)
	}
	peerAB.presharedKey = psk

	msg1, err := a.dev.createInitiation(peerAB, now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.dev.consumeInitiation(msg1, now); err != nil {
		t.Fatal(err)
	}
	msg2, err := b.dev.createResponse(peerBA)
	if err != nil {
		t.Fatal(err)
	}
	// PSK mismatch: the empty payload fails to authenticate.
	if _, err := a.dev.consumeResponse(msg2); err == nil {
		t.Fatal("handshake completed despite preshared key mismatch")
	}

	// Matching PSKs complete.
	peerBA.presharedKey = psk
	peerAB.handshake.clear()
	msg1, err = a.dev.createInitiation(peerAB, now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.dev.consumeInitiation(msg1, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	msg2, err = b.dev.createResponse(peerBA)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.dev.consumeResponse(msg2); err != nil {
		t.Fatal("handshake failed with matching preshared keys:", err)
	}
}

func TestMessageCodecSizes(t *testing.T) {
	var initiation MessageInitiation
	var response MessageResponse
	var cookie MessageCookieReply

	if err := initiation.marshal(make([]byte, MessageInitiationSize)); err != nil {
		t.Error("initiation does not marshal into 148 bytes")
	}
	if err := initiation.marshal(make([]byte, MessageInitiationSize-1)); err == nil {
		t.Error("short initiation buffer accepted")
	}
	if err := response.marshal(make([]byte, MessageResponseSize)); err != nil {
		t.Error("response does not marshal into 92 bytes")
	}
	if err := cookie.marshal(make([]byte, MessageCookieReplySize)); err != nil {
		t.Error("cookie reply does not marshal into 64 bytes")
	}
}

func TestMessageCodecRoundTrip(t *testing.T) {
	src := MessageInitiation{
		Type:   MessageInitiationType,
		Sender: 0xdeadbeef,
	}
	if err := randBytes(src.Ephemeral[:]); err != nil {
		t.Fatal(err)
	}
	randBytes(src.Static[:])
	randBytes(src.Timestamp[:])
	randBytes(src.MAC1[:])
	randBytes(src.MAC2[:])

	var buf [MessageInitiationSize]byte
	if err := src.marshal(buf[:]); err != nil {
		t.Fatal(err)
	}
	if buf[0] != MessageInitiationType || buf[1] != 0 || buf[2] != 0 || buf[3] != 0 {
		t.Error("type/reserved bytes are wrong on the wire")
	}

	var dst MessageInitiation
	if err := dst.unmarshal(buf[:]); err != nil {
		t.Fatal(err)
	}
	if dst != src {
		t.Error("initiation did not round-trip")
	}
}

func TestGenerateUniqueIndex(t *testing.T) {
	a, _, peerAB, _ := newHandshakeDevices(t)

	seen := make(map[uint32]bool)
	for i := 0; i < 64; i++ {
		idx, err := a.dev.generateUniqueIndex()
		if err != nil {
			t.Fatal(err)
		}
		if idx == 0 || idx == 0xFFFFFFFF {
			t.Fatal("reserved index generated")
		}
		if seen[idx] {
			t.Fatal("repeated index while previous is registered")
		}
		seen[idx] = true

		// Register the index on the live handshake so the next draw
		// must avoid it.
		peerAB.handshake.localIndex = idx
		peerAB.handshake.isValid = true
	}
}
