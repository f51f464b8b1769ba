/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "testing"

func TestKeypairRingInitiator(t *testing.T) {
	var kps Keypairs

	first := &Keypair{isInitiator: true, localIndex: 1}
	kps.addKeypair(first)
	if kps.current != first || kps.previous != nil || kps.next != nil {
		t.Fatal("initiator keypair must land in current")
	}

	second := &Keypair{isInitiator: true, localIndex: 2}
	kps.addKeypair(second)
	if kps.current != second || kps.previous != first {
		t.Fatal("rekey must rotate current into previous")
	}
}

func TestKeypairRingResponder(t *testing.T) {
	var kps Keypairs

	old := &Keypair{isInitiator: true, localIndex: 1}
	kps.addKeypair(old)

	parked := &Keypair{isInitiator: false, localIndex: 2}
	kps.addKeypair(parked)
	if kps.next != parked || kps.current != old || kps.previous != nil {
		t.Fatal("responder keypair must park in next and clear previous")
	}

	// Promotion only fires for the parked keypair.
	if kps.promote(old) {
		t.Fatal("promoted a keypair that is not next")
	}
	if !kps.promote(parked) {
		t.Fatal("failed to promote next")
	}
	if kps.current != parked || kps.previous != old || kps.next != nil {
		t.Fatal("promotion did not rotate the ring")
	}
	if kps.promote(parked) {
		t.Fatal("promotion is not idempotent")
	}
}

func TestKeypairRingInitiatorOverNext(t *testing.T) {
	var kps Keypairs

	current := &Keypair{isInitiator: true, localIndex: 1}
	kps.addKeypair(current)
	parked := &Keypair{isInitiator: false, localIndex: 2}
	kps.addKeypair(parked)

	// An initiator-derived keypair arriving while next is occupied
	// keeps the parked one as previous for out-of-order packets.
	fresh := &Keypair{isInitiator: true, localIndex: 3}
	kps.addKeypair(fresh)
	if kps.current != fresh || kps.previous != parked || kps.next != nil {
		t.Fatal("initiator install over occupied next is wrong")
	}
}
