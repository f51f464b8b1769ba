/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/cipher"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/nordwire/wgcore/replay"
)

/* Due to limitations in Go and /x/crypto there is currently
 * no way to ensure that key material is securely erased in memory.
 *
 * Since this may harm the forward secrecy property,
 * we plan to resolve this issue; whenever Go allows us to do so.
 */

// A Keypair is one half of a session: the symmetric sending and receiving
// state derived from a completed handshake. A nil *Keypair is an invalid
// slot. All fields are guarded by the device mutex.
type Keypair struct {
	send    cipher.AEAD
	receive cipher.AEAD

	sendingCounter uint64
	replayFilter   replay.Filter

	localIndex  uint32 // index we generated for our end
	remoteIndex uint32 // index on the other end

	expires  time.Time // reject for sending/receiving past this
	rejected time.Time // wipe the whole ring past this

	lastTX time.Time
	lastRX time.Time

	isInitiator bool
}

// Keypairs is the three-slot ring each peer keeps. A fresh handshake lands
// in current (initiator) or next (responder); next is promoted to current
// by the first authenticated transport receive on it.
type Keypairs struct {
	previous *Keypair
	current  *Keypair
	next     *Keypair
}

// Current returns the keypair transport sends would use, for inspection.
func (kp *Keypairs) Current() *Keypair {
	return kp.current
}

func (kp *Keypairs) destroyAll() {
	kp.previous = nil
	kp.current = nil
	kp.next = nil
}

// addKeypair installs a freshly derived keypair according to the role we
// played in its handshake. An initiator starts using the keypair at once;
// a responder parks it in next until the initiator proves it has the
// session by sending transport data.
func (kp *Keypairs) addKeypair(keypair *Keypair) {
	if keypair.isInitiator {
		if kp.next != nil {
			kp.previous = kp.next
			kp.next = nil
		} else {
			kp.previous = kp.current
		}
		kp.current = keypair
	} else {
		kp.next = keypair
		kp.previous = nil
	}
}

// promote rotates next into current after the first authenticated receive
// on it. Returns whether a rotation happened.
func (kp *Keypairs) promote(received *Keypair) bool {
	if received == nil || kp.next != received {
		return false
	}
	kp.previous = kp.current
	kp.current = kp.next
	kp.next = nil
	return true
}

// beginSession derives a keypair from the peer's completed handshake and
// installs it in the ring. The handshake is wiped; its indices move into
// the keypair.
func (peer *Peer) beginSession(now time.Time) error {
	handshake := &peer.handshake

	var sendKey [chacha20poly1305.KeySize]byte
	var recvKey [chacha20poly1305.KeySize]byte

	// (T_send^i = T_recv^r, T_recv^i = T_send^r) := KDF2(C, epsilon)
	if handshake.isInitiator {
		KDF2(&sendKey, &recvKey, handshake.chainKey[:], nil)
	} else {
		KDF2(&recvKey, &sendKey, handshake.chainKey[:], nil)
	}

	keypair := new(Keypair)
	var err error
	keypair.send, err = chacha20poly1305.New(sendKey[:])
	if err == nil {
		keypair.receive, err = chacha20poly1305.New(recvKey[:])
	}
	setZero(sendKey[:])
	setZero(recvKey[:])
	if err != nil {
		return err
	}

	keypair.isInitiator = handshake.isInitiator
	keypair.localIndex = handshake.localIndex
	keypair.remoteIndex = handshake.remoteIndex
	keypair.expires = now.Add(RejectAfterTime)
	keypair.rejected = now.Add(3 * RejectAfterTime)
	keypair.replayFilter.Reset()

	handshake.clear()

	peer.keypairs.addKeypair(keypair)
	if peer.keepaliveInterval > 0 {
		peer.keepaliveExpires = now.Add(keepaliveDuration(peer.keepaliveInterval))
	}
	return nil
}
