/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"

	"golang.org/x/crypto/poly1305"
)

/* Outbound flow
 *
 * inner packet -> eligible keypair -> pad -> seal -> header -> bind
 *
 * A keepalive is the same path with an empty inner packet. All of it runs
 * under the device mutex; per peer, datagrams leave in strictly
 * increasing counter order because the counter is read and incremented
 * without the mutex ever being dropped.
 */

func roundUpTo(n, multiple int) int {
	return (n + multiple - 1) / multiple * multiple
}

// sendDatagramLocked transmits a marshaled message to the peer's current
// endpoint, falling back to the configured one for the first contact.
func (device *Device) sendDatagramLocked(peer *Peer, b []byte) error {
	if !peer.endpoint.IsValid() {
		peer.endpoint = peer.configuredEndpoint
	}
	if !peer.endpoint.IsValid() {
		return ErrNoEndpoint
	}
	return device.bind.Send(b, peer.endpoint)
}

// SendPacket encrypts one inner packet to the peer. With no usable
// keypair it arranges a handshake and reports ErrNoCurrentKeypair so the
// caller can retry once the tunnel is up.
func (peer *Peer) SendPacket(packet []byte) error {
	device := peer.device
	device.mu.Lock()
	defer device.mu.Unlock()
	return device.sendPacketLocked(peer, packet)
}

func (device *Device) sendPacketLocked(peer *Peer, packet []byte) error {
	now := device.timeNow()

	keypair := peer.keypairs.current

	// A responder-derived keypair may not be used for sending until the
	// initiator has proven the session with transport data; previous
	// covers the gap.
	if keypair != nil && !keypair.isInitiator && keypair.lastRX.IsZero() {
		keypair = peer.keypairs.previous
	}

	if keypair == nil || (!keypair.isInitiator && keypair.lastRX.IsZero()) {
		device.stats.InvalidKey++
		peer.sendHandshake = true
		device.startHandshakeLocked(peer)
		return ErrNoCurrentKeypair
	}

	if !now.Before(keypair.expires) || keypair.sendingCounter >= RejectAfterMessages {
		device.destroyKeypairLocked(peer, keypair)
		device.stats.KeyExpired++
		peer.sendHandshake = true
		return ErrKeyExpired
	}

	paddedLen := roundUpTo(len(packet), PaddingMultiple)
	buf := make([]byte, MessageTransportHeaderSize+paddedLen+poly1305.TagSize)
	buf[0] = MessageTransportType
	binary.LittleEndian.PutUint32(buf[MessageTransportOffsetReceiver:], keypair.remoteIndex)
	binary.LittleEndian.PutUint64(buf[MessageTransportOffsetCounter:], keypair.sendingCounter)

	content := buf[MessageTransportOffsetContent:]
	copy(content, packet)
	nonce := aeadNonce(keypair.sendingCounter)
	keypair.send.Seal(content[:0], nonce[:], content[:paddedLen], nil)
	keypair.sendingCounter++

	if err := device.sendDatagramLocked(peer, buf); err != nil {
		device.stats.DropTX++
		return err
	}

	peer.lastTX = now
	keypair.lastTX = now
	if peer.keepaliveInterval > 0 {
		peer.keepaliveExpires = now.Add(keepaliveDuration(peer.keepaliveInterval))
	}

	if len(packet) == 0 {
		device.stats.KeepaliveTX++
	} else {
		device.stats.ValidTX++
	}

	// Rekey triggers: counter volume, or an initiator-owned keypair
	// inside the grace window before expiry.
	if keypair.sendingCounter >= RekeyAfterMessages {
		peer.sendHandshake = true
	} else if keypair.isInitiator && !now.Before(keypair.expires.Add(-RekeyGraceTime)) {
		peer.sendHandshake = true
	}

	return nil
}

func (device *Device) sendKeepaliveLocked(peer *Peer) error {
	return device.sendPacketLocked(peer, nil)
}

// destroyKeypairLocked clears whichever ring slot holds the keypair.
func (device *Device) destroyKeypairLocked(peer *Peer, keypair *Keypair) {
	kps := &peer.keypairs
	switch keypair {
	case kps.previous:
		kps.previous = nil
	case kps.current:
		kps.current = nil
	case kps.next:
		kps.next = nil
	}
}

// startHandshakeLocked creates and transmits an initiation, honoring the
// retransmission gate: at most one in flight per RekeyTimeout.
func (device *Device) startHandshakeLocked(peer *Peer) error {
	now := device.timeNow()

	if !peer.lastInitiationTX.IsZero() && now.Before(peer.rekeyExpires) {
		return nil
	}

	msg, err := device.createInitiation(peer, now)
	if err != nil {
		return err
	}

	var buf [MessageInitiationSize]byte
	if err := msg.marshal(buf[:]); err != nil {
		return err
	}
	peer.addMacs(buf[:], now)

	if err := device.sendDatagramLocked(peer, buf[:]); err != nil {
		device.stats.DropTX++
		return err
	}

	peer.sendHandshake = false
	peer.lastInitiationTX = now
	peer.rekeyExpires = now.Add(RekeyTimeout)
	device.stats.HandshakeInitTX++

	device.log.Verbosef("%v - Sending handshake initiation", peer)
	return nil
}
