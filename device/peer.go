/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/crypto/blake2s"

	"github.com/nordwire/wgcore/tai64n"
)

// A Peer is the durable record for one configured remote endpoint. All
// fields are guarded by the owning device's mutex.
type Peer struct {
	id     int
	device *Device

	publicKey    NoisePublicKey
	presharedKey NoisePresharedKey

	// precomputedStaticStatic is DH(local static private, peer static
	// public), computed when the peer is added and whenever the device
	// key changes.
	precomputedStaticStatic [NoisePublicKeySize]byte

	// Label keys derived from the peer's public key: mac1 on messages we
	// send to the peer, and the XChaCha key that opens cookie replies
	// from it.
	labelMAC1Key   [blake2s.Size]byte
	labelCookieKey [blake2s.Size]byte

	cookie             [CookieSize]byte
	cookieExpires      time.Time
	handshakeMAC1      [CookieSize]byte
	handshakeMAC1Valid bool

	handshake Handshake
	keypairs  Keypairs

	configuredEndpoint netip.AddrPort
	endpoint           netip.AddrPort // latest authenticated source address

	allowedIPs []netip.Prefix

	keepaliveInterval uint16 // seconds, 0 disables
	keepaliveExpires  time.Time

	greatestTimestamp tai64n.Timestamp

	lastInitiationRX time.Time
	lastInitiationTX time.Time
	rekeyExpires     time.Time
	lastTX           time.Time
	lastRX           time.Time

	// sendHandshake is set by the data path when a fresh handshake is
	// wanted; the periodic walk acts on it.
	sendHandshake bool
}

// PeerConfig describes a peer to add.
type PeerConfig struct {
	PublicKey         NoisePublicKey
	PresharedKey      NoisePresharedKey // all zeros when unused
	Endpoint          netip.AddrPort
	AllowedIPs        []netip.Prefix
	KeepaliveInterval uint16 // seconds, 0 disables, capped at KeepaliveTimeout
}

// AddPeer registers a peer and precomputes its static-static DH and label
// keys.
func (device *Device) AddPeer(cfg PeerConfig) (*Peer, error) {
	device.mu.Lock()
	defer device.mu.Unlock()

	if device.closed {
		return nil, ErrDeviceClosed
	}
	if len(device.peers) >= MaxPeers {
		return nil, ErrTooManyPeers
	}
	if len(cfg.AllowedIPs) > MaxAllowedIPs {
		return nil, ErrTooManyAllowedIPs
	}
	if cfg.PublicKey.IsZero() {
		return nil, ErrInvalidKey
	}
	if _, ok := device.peerByKey[cfg.PublicKey]; ok {
		return nil, ErrPeerExists
	}

	peer := &Peer{
		id:                 device.nextPeerID,
		device:             device,
		publicKey:          cfg.PublicKey,
		presharedKey:       cfg.PresharedKey,
		configuredEndpoint: cfg.Endpoint,
		endpoint:           cfg.Endpoint,
		keepaliveInterval:  min(cfg.KeepaliveInterval, KeepaliveTimeout),
	}
	device.nextPeerID++

	for _, prefix := range cfg.AllowedIPs {
		if !prefix.IsValid() {
			return nil, ErrNoRoute
		}
		peer.allowedIPs = append(peer.allowedIPs, prefix.Masked())
	}

	ss, err := device.staticIdentity.privateKey.sharedSecret(cfg.PublicKey)
	if err != nil {
		return nil, err
	}
	peer.precomputedStaticStatic = ss

	macKey(&peer.labelMAC1Key, WGLabelMAC1, cfg.PublicKey)
	macKey(&peer.labelCookieKey, WGLabelCookie, cfg.PublicKey)

	device.peers = append(device.peers, peer)
	device.peerByKey[cfg.PublicKey] = peer

	return peer, nil
}

// RemovePeer tears a peer down, zeroing all of its keying material.
func (device *Device) RemovePeer(pk NoisePublicKey) error {
	device.mu.Lock()
	defer device.mu.Unlock()

	peer, ok := device.peerByKey[pk]
	if !ok {
		return ErrUnknownPeer
	}
	delete(device.peerByKey, pk)
	for i, p := range device.peers {
		if p == peer {
			device.peers = append(device.peers[:i], device.peers[i+1:]...)
			break
		}
	}

	peer.wipe()
	return nil
}

func (peer *Peer) wipe() {
	setZero(peer.presharedKey[:])
	setZero(peer.precomputedStaticStatic[:])
	setZero(peer.cookie[:])
	peer.handshake.clear()
	peer.keypairs.destroyAll()
	peer.handshakeMAC1Valid = false
	peer.sendHandshake = false
}

// ID returns the small integer handle assigned when the peer was added.
func (peer *Peer) ID() int {
	return peer.id
}

// PublicKey returns the peer's static public key.
func (peer *Peer) PublicKey() NoisePublicKey {
	return peer.publicKey
}

// Endpoint returns the address transport datagrams are currently sent to.
func (peer *Peer) Endpoint() netip.AddrPort {
	peer.device.mu.Lock()
	defer peer.device.mu.Unlock()
	return peer.endpoint
}

func (peer *Peer) String() string {
	base64Key := peer.publicKey.Base64()
	return fmt.Sprintf("peer(%s…%s)", base64Key[0:4], base64Key[39:43])
}

// Peer resolves a peer by id.
func (device *Device) Peer(id int) *Peer {
	device.mu.Lock()
	defer device.mu.Unlock()
	for _, peer := range device.peers {
		if peer.id == id {
			return peer
		}
	}
	return nil
}

// LookupPeer resolves a peer by static public key.
func (device *Device) LookupPeer(pk NoisePublicKey) *Peer {
	device.mu.Lock()
	defer device.mu.Unlock()
	return device.peerByKey[pk]
}

// updateEndpoint records the source of an authenticated message so
// replies follow the peer across address changes.
func (peer *Peer) updateEndpoint(addr netip.AddrPort) {
	peer.endpoint = addr
}
