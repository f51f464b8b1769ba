/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "time"

/* The only source of spontaneous traffic: a single periodic walk over the
 * peer set that expires keypairs, emits keepalives and retries
 * handshakes. Everything event-driven (rekey wanted, session missing) is
 * recorded as flags by the data path and acted on here; a send with no
 * usable keypair also starts the first initiation itself.
 */

func keepaliveDuration(seconds uint16) time.Duration {
	return time.Duration(seconds) * time.Second
}

func (device *Device) routineTimer() {
	defer device.wg.Done()
	ticker := time.NewTicker(TimerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-device.stop:
			return
		case <-ticker.C:
			device.tick()
		}
	}
}

// tick performs one maintenance pass. Exposed to tests through the fake
// clock; in production only routineTimer calls it.
func (device *Device) tick() {
	device.mu.Lock()
	defer device.mu.Unlock()

	now := device.timeNow()
	for _, peer := range device.peers {
		device.maintainPeerLocked(peer, now)
	}
}

func (device *Device) maintainPeerLocked(peer *Peer, now time.Time) {
	kps := &peer.keypairs

	// Past the rejection horizon the whole ring is torn down.
	if cur := kps.current; cur != nil && !now.Before(cur.rejected) {
		kps.destroyAll()
	}

	// Past expiry (or counter exhaustion) the current keypair alone goes.
	if cur := kps.current; cur != nil &&
		(!now.Before(cur.expires) || cur.sendingCounter >= RejectAfterMessages) {
		kps.current = nil
	}

	if device.shouldSendKeepaliveLocked(peer, now) {
		device.sendKeepaliveLocked(peer)
	}

	if device.shouldSendInitiationLocked(peer, now) {
		device.startHandshakeLocked(peer)
	}
}

func (device *Device) shouldSendKeepaliveLocked(peer *Peer, now time.Time) bool {
	if peer.keepaliveInterval == 0 {
		return false
	}
	if peer.keypairs.current == nil && peer.keypairs.previous == nil {
		return false
	}
	return !peer.keepaliveExpires.IsZero() && !now.Before(peer.keepaliveExpires)
}

func (device *Device) shouldSendInitiationLocked(peer *Peer, now time.Time) bool {
	// Gate: never more than one initiation per RekeyTimeout.
	if !peer.lastInitiationTX.IsZero() && now.Before(peer.rekeyExpires) {
		return false
	}

	if peer.sendHandshake {
		return true
	}

	cur := peer.keypairs.current
	if cur != nil && !cur.isInitiator && !now.Before(cur.expires.Add(-RekeyGraceTime)) {
		// A responder-owned session nearing expiry is rekeyed from
		// this side so traffic does not stall waiting for the other
		// end.
		return true
	}

	if cur == nil && peer.endpoint.IsValid() {
		// No session: initiate, and keep retrying at RekeyTimeout
		// cadence until one is established.
		return true
	}

	return false
}
