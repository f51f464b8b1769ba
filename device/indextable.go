/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

/* Session indices are 4-byte host-local identifiers carried in the
 * receiver field of incoming messages. The peer set is bounded by
 * MaxPeers, so the registry is a scan over at most four indices per peer
 * rather than a table. Everything here runs under the device mutex.
 */

// indexInUse reports whether idx collides with any live handshake or
// keypair slot on the interface.
func (device *Device) indexInUse(idx uint32) bool {
	for _, peer := range device.peers {
		if peer.handshake.isValid && peer.handshake.localIndex == idx {
			return true
		}
		for _, kp := range []*Keypair{peer.keypairs.previous, peer.keypairs.current, peer.keypairs.next} {
			if kp != nil && kp.localIndex == idx {
				return true
			}
		}
	}
	return false
}

// generateUniqueIndex draws indices from the CSPRNG until one is free.
// Zero and all-ones are reserved.
func (device *Device) generateUniqueIndex() (uint32, error) {
	for {
		idx, err := randUint32()
		if err != nil {
			return 0, err
		}
		if idx == 0 || idx == 0xFFFFFFFF {
			continue
		}
		if !device.indexInUse(idx) {
			return idx, nil
		}
	}
}

// lookupKeypair resolves the receiver index of a transport message to the
// owning peer and keypair slot.
func (device *Device) lookupKeypair(idx uint32) (*Peer, *Keypair) {
	for _, peer := range device.peers {
		for _, kp := range []*Keypair{peer.keypairs.previous, peer.keypairs.current, peer.keypairs.next} {
			if kp != nil && kp.localIndex == idx {
				return peer, kp
			}
		}
	}
	return nil, nil
}

// lookupHandshake resolves the receiver index of a response or cookie
// reply to the peer whose outstanding initiator handshake owns it.
func (device *Device) lookupHandshake(idx uint32) *Peer {
	for _, peer := range device.peers {
		if peer.handshake.isValid && peer.handshake.isInitiator &&
			peer.handshake.localIndex == idx {
			return peer
		}
	}
	return nil
}
