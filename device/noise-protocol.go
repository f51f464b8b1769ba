/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/cipher"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/nordwire/wgcore/tai64n"
)

// Handshake is the transient Noise_IKpsk2 state for one attempt. It lives
// from the first message of the attempt until beginSession turns it into a
// keypair or the attempt is abandoned. Guarded by the device mutex.
type Handshake struct {
	localIndex  uint32
	remoteIndex uint32

	ephemeralPrivate NoisePrivateKey
	remoteEphemeral  NoisePublicKey

	hash     [blake2s.Size]byte // transcript hash
	chainKey [blake2s.Size]byte // chaining key

	isValid     bool
	isInitiator bool
}

func (h *Handshake) clear() {
	setZero(h.ephemeralPrivate[:])
	setZero(h.remoteEphemeral[:])
	setZero(h.chainKey[:])
	setZero(h.hash[:])
	h.localIndex = 0
	h.remoteIndex = 0
	h.isValid = false
	h.isInitiator = false
}

func (h *Handshake) mixHash(data []byte) {
	mixHash(&h.hash, &h.hash, data)
}

func (h *Handshake) mixKey(data []byte) {
	mixKey(&h.chainKey, &h.chainKey, data)
}

func newAEAD(key []byte) cipher.AEAD {
	aead, _ := chacha20poly1305.New(key)
	return aead
}

// createInitiation starts a fresh handshake attempt toward peer and
// produces the first message. Caller holds the device mutex.
func (device *Device) createInitiation(peer *Peer, now time.Time) (*MessageInitiation, error) {
	if device.staticIdentity.privateKey.IsZero() {
		return nil, ErrInvalidKey
	}
	if isZero(peer.precomputedStaticStatic[:]) {
		return nil, errInvalidPublicKey
	}

	handshake := &peer.handshake

	var err error
	handshake.hash = InitialHash
	handshake.chainKey = InitialChainKey
	handshake.ephemeralPrivate, err = newPrivateKey()
	if err != nil {
		return nil, err
	}

	handshake.mixHash(peer.publicKey[:])

	msg := MessageInitiation{
		Type:      MessageInitiationType,
		Ephemeral: handshake.ephemeralPrivate.publicKey(),
	}

	handshake.mixKey(msg.Ephemeral[:])
	handshake.mixHash(msg.Ephemeral[:])

	// encrypt static key
	ss, err := handshake.ephemeralPrivate.sharedSecret(peer.publicKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	var key [chacha20poly1305.KeySize]byte
	KDF2(&handshake.chainKey, &key, handshake.chainKey[:], ss[:])
	newAEAD(key[:]).Seal(msg.Static[:0], ZeroNonce[:], device.staticIdentity.publicKey[:], handshake.hash[:])
	handshake.mixHash(msg.Static[:])

	// encrypt timestamp, keyed through the precomputed static-static DH
	KDF2(&handshake.chainKey, &key, handshake.chainKey[:], peer.precomputedStaticStatic[:])
	timestamp := tai64n.At(now)
	newAEAD(key[:]).Seal(msg.Timestamp[:0], ZeroNonce[:], timestamp[:], handshake.hash[:])
	handshake.mixHash(msg.Timestamp[:])

	msg.Sender, err = device.generateUniqueIndex()
	if err != nil {
		return nil, err
	}
	handshake.localIndex = msg.Sender
	handshake.isInitiator = true
	handshake.isValid = true

	setZero(key[:])
	setZero(ss[:])

	return &msg, nil
}

// consumeInitiation validates an initiation whose macs already checked
// out, identifies the peer, and commits the responder half of the
// handshake state. Caller holds the device mutex.
func (device *Device) consumeInitiation(msg *MessageInitiation, now time.Time) (*Peer, error) {
	var (
		hash     [blake2s.Size]byte
		chainKey [blake2s.Size]byte
	)

	if msg.Type != MessageInitiationType {
		return nil, ErrInvalidMessage
	}
	if device.staticIdentity.privateKey.IsZero() {
		return nil, ErrInvalidKey
	}

	mixHash(&hash, &InitialHash, device.staticIdentity.publicKey[:])
	mixHash(&hash, &hash, msg.Ephemeral[:])
	mixKey(&chainKey, &InitialChainKey, msg.Ephemeral[:])

	// decrypt static key
	var peerPK NoisePublicKey
	var key [chacha20poly1305.KeySize]byte
	ss, err := device.staticIdentity.privateKey.sharedSecret(msg.Ephemeral)
	if err != nil {
		return nil, ErrInvalidKey
	}
	KDF2(&chainKey, &key, chainKey[:], ss[:])
	_, err = newAEAD(key[:]).Open(peerPK[:0], ZeroNonce[:], msg.Static[:], hash[:])
	if err != nil {
		return nil, ErrAuthFail
	}
	mixHash(&hash, &hash, msg.Static[:])

	peer := device.peerByKey[peerPK]
	if peer == nil {
		return nil, ErrUnknownPeer
	}

	// decrypt timestamp
	var timestamp tai64n.Timestamp
	if isZero(peer.precomputedStaticStatic[:]) {
		return nil, errInvalidPublicKey
	}
	KDF2(&chainKey, &key, chainKey[:], peer.precomputedStaticStatic[:])
	_, err = newAEAD(key[:]).Open(timestamp[:0], ZeroNonce[:], msg.Timestamp[:], hash[:])
	if err != nil {
		return nil, ErrAuthFail
	}
	mixHash(&hash, &hash, msg.Timestamp[:])

	// protect against replay and flood
	if !timestamp.After(peer.greatestTimestamp) {
		return nil, ErrReplay
	}
	if !peer.lastInitiationRX.IsZero() && now.Sub(peer.lastInitiationRX) < HandshakeInitationRate {
		return nil, ErrRateLimited
	}

	// commit
	peer.greatestTimestamp = timestamp
	peer.lastInitiationRX = now

	handshake := &peer.handshake
	handshake.hash = hash
	handshake.chainKey = chainKey
	handshake.remoteEphemeral = msg.Ephemeral
	handshake.remoteIndex = msg.Sender
	handshake.localIndex = 0
	handshake.isInitiator = false
	handshake.isValid = true

	setZero(hash[:])
	setZero(chainKey[:])
	setZero(key[:])
	setZero(ss[:])

	return peer, nil
}

// createResponse finishes the responder leg: the ephemeral-ephemeral and
// ephemeral-static mixes, the preshared key, and the authenticated empty
// payload. Caller holds the device mutex.
func (device *Device) createResponse(peer *Peer) (*MessageResponse, error) {
	handshake := &peer.handshake

	if !handshake.isValid || handshake.isInitiator {
		return nil, ErrInvalidMessage
	}

	var msg MessageResponse
	msg.Type = MessageResponseType
	msg.Receiver = handshake.remoteIndex

	var err error
	handshake.ephemeralPrivate, err = newPrivateKey()
	if err != nil {
		return nil, err
	}
	msg.Ephemeral = handshake.ephemeralPrivate.publicKey()
	handshake.mixHash(msg.Ephemeral[:])
	handshake.mixKey(msg.Ephemeral[:])

	ss, err := handshake.ephemeralPrivate.sharedSecret(handshake.remoteEphemeral)
	if err != nil {
		return nil, ErrInvalidKey
	}
	handshake.mixKey(ss[:])
	ss, err = handshake.ephemeralPrivate.sharedSecret(peer.publicKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	handshake.mixKey(ss[:])
	setZero(ss[:])

	// add preshared key
	var tau [blake2s.Size]byte
	var key [chacha20poly1305.KeySize]byte
	KDF3(&handshake.chainKey, &tau, &key, handshake.chainKey[:], peer.presharedKey[:])
	handshake.mixHash(tau[:])

	newAEAD(key[:]).Seal(msg.Empty[:0], ZeroNonce[:], nil, handshake.hash[:])
	handshake.mixHash(msg.Empty[:])

	msg.Sender, err = device.generateUniqueIndex()
	if err != nil {
		return nil, err
	}
	handshake.localIndex = msg.Sender

	setZero(tau[:])
	setZero(key[:])

	return &msg, nil
}

// consumeResponse validates a response against the outstanding initiator
// handshake addressed by its receiver index. Caller holds the device
// mutex.
func (device *Device) consumeResponse(msg *MessageResponse) (*Peer, error) {
	if msg.Type != MessageResponseType {
		return nil, ErrInvalidMessage
	}

	peer := device.lookupHandshake(msg.Receiver)
	if peer == nil {
		return nil, ErrUnknownPeer
	}
	handshake := &peer.handshake

	var (
		hash     [blake2s.Size]byte
		chainKey [blake2s.Size]byte
	)
	hash = handshake.hash
	chainKey = handshake.chainKey

	mixKey(&chainKey, &chainKey, msg.Ephemeral[:])
	mixHash(&hash, &hash, msg.Ephemeral[:])

	ss, err := handshake.ephemeralPrivate.sharedSecret(msg.Ephemeral)
	if err != nil {
		return nil, ErrInvalidKey
	}
	mixKey(&chainKey, &chainKey, ss[:])
	ss, err = device.staticIdentity.privateKey.sharedSecret(msg.Ephemeral)
	if err != nil {
		return nil, ErrInvalidKey
	}
	mixKey(&chainKey, &chainKey, ss[:])
	setZero(ss[:])

	var tau [blake2s.Size]byte
	var key [chacha20poly1305.KeySize]byte
	KDF3(&chainKey, &tau, &key, chainKey[:], peer.presharedKey[:])
	mixHash(&hash, &hash, tau[:])

	_, err = newAEAD(key[:]).Open(nil, ZeroNonce[:], msg.Empty[:], hash[:])
	if err != nil {
		return nil, ErrAuthFail
	}
	mixHash(&hash, &hash, msg.Empty[:])

	handshake.hash = hash
	handshake.chainKey = chainKey
	handshake.remoteEphemeral = msg.Ephemeral
	handshake.remoteIndex = msg.Sender

	setZero(hash[:])
	setZero(chainKey[:])
	setZero(tau[:])
	setZero(key[:])

	return peer, nil
}
