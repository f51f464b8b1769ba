/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/poly1305"
)

/* Inbound flow
 *
 * datagram -> first byte dispatch -> handshake engine or data path
 *
 * Every failure drops the message and bumps exactly one statistic;
 * nothing is reported back to the sender.
 */

// HandleDatagram processes one received UDP payload. It must tolerate
// datagrams from arbitrary sources.
func (device *Device) HandleDatagram(packet []byte, src netip.AddrPort) {
	device.mu.Lock()
	defer device.mu.Unlock()

	if len(packet) < 4 || !checkReserved(packet) {
		device.stats.InvalidPacket++
		return
	}

	switch packet[0] {
	case MessageInitiationType:
		device.handleInitiationLocked(packet, src)
	case MessageResponseType:
		device.handleResponseLocked(packet, src)
	case MessageCookieReplyType:
		device.handleCookieReplyLocked(packet, src)
	case MessageTransportType:
		device.handleTransportLocked(packet, src)
	default:
		device.stats.InvalidPacket++
	}
}

// checkHandshakeMacsLocked runs the mac1/mac2 policy shared by initiation
// and response messages: mac1 always, mac2 only under load, answering
// with a cookie reply when mac2 does not hold up.
func (device *Device) checkHandshakeMacsLocked(packet []byte, sender uint32, src netip.AddrPort) bool {
	if !device.checkMAC1(packet) {
		device.stats.InvalidMAC1++
		return false
	}

	if !device.isUnderLoad(src) {
		return true
	}

	now := device.timeNow()
	if device.checkMAC2(packet, src, now) {
		return true
	}

	// Valid mac1, no valid mac2, under load: hand out a cookie.
	startMAC1 := len(packet) - 2*blake2s.Size128
	mac1 := packet[startMAC1 : startMAC1+blake2s.Size128]
	reply, err := device.createCookieReply(mac1, sender, src, now)
	if err == nil {
		var buf [MessageCookieReplySize]byte
		if reply.marshal(buf[:]) == nil {
			device.bind.Send(buf[:], src)
		}
	}
	device.stats.InvalidMAC2++
	return false
}

func (device *Device) countHandshakeError(err error) {
	switch {
	case errors.Is(err, ErrAuthFail):
		device.stats.DecryptFailed++
	case errors.Is(err, ErrUnknownPeer):
		device.stats.PeerNotFound++
	case errors.Is(err, ErrInvalidKey):
		device.stats.InvalidKey++
	case errors.Is(err, ErrRateLimited):
		device.stats.RateLimited++
	default:
		device.stats.InvalidHandshake++
	}
}

func (device *Device) handleInitiationLocked(packet []byte, src netip.AddrPort) {
	if len(packet) != MessageInitiationSize {
		device.stats.InvalidPacketLen++
		return
	}

	sender := binary.LittleEndian.Uint32(packet[4:])
	if !device.checkHandshakeMacsLocked(packet, sender, src) {
		return
	}

	var msg MessageInitiation
	if msg.unmarshal(packet) != nil {
		device.stats.InvalidPacket++
		return
	}

	now := device.timeNow()
	peer, err := device.consumeInitiation(&msg, now)
	if err != nil {
		device.countHandshakeError(err)
		return
	}
	device.stats.HandshakeInitRX++
	peer.updateEndpoint(src)

	device.log.Verbosef("%v - Received handshake initiation", peer)

	rsp, err := device.createResponse(peer)
	if err != nil {
		device.stats.InvalidHandshake++
		return
	}

	var buf [MessageResponseSize]byte
	if rsp.marshal(buf[:]) != nil {
		device.stats.InvalidHandshake++
		return
	}
	peer.addMacs(buf[:], now)

	if err := device.sendDatagramLocked(peer, buf[:]); err != nil {
		device.stats.DropTX++
		return
	}
	device.stats.HandshakeRespTX++

	// The responder parks the derived keypair in next until the
	// initiator sends transport data with it.
	if err := peer.beginSession(now); err != nil {
		device.stats.InvalidHandshake++
	}
}

func (device *Device) handleResponseLocked(packet []byte, src netip.AddrPort) {
	if len(packet) != MessageResponseSize {
		device.stats.InvalidPacketLen++
		return
	}

	sender := binary.LittleEndian.Uint32(packet[4:])
	if !device.checkHandshakeMacsLocked(packet, sender, src) {
		return
	}

	var msg MessageResponse
	if msg.unmarshal(packet) != nil {
		device.stats.InvalidPacket++
		return
	}

	peer, err := device.consumeResponse(&msg)
	if err != nil {
		device.countHandshakeError(err)
		return
	}
	device.stats.HandshakeRespRX++
	peer.updateEndpoint(src)

	device.log.Verbosef("%v - Received handshake response", peer)

	now := device.timeNow()
	if err := peer.beginSession(now); err != nil {
		device.stats.InvalidHandshake++
	}
}

func (device *Device) handleCookieReplyLocked(packet []byte, src netip.AddrPort) {
	if len(packet) != MessageCookieReplySize {
		device.stats.InvalidPacketLen++
		return
	}

	var msg MessageCookieReply
	if msg.unmarshal(packet) != nil {
		device.stats.InvalidPacket++
		return
	}

	peer := device.lookupHandshake(msg.Receiver)
	if peer == nil {
		device.stats.PeerNotFound++
		return
	}

	now := device.timeNow()
	if !peer.consumeCookieReply(&msg, now) {
		device.stats.InvalidCookie++
		return
	}
	peer.updateEndpoint(src)

	device.log.Verbosef("%v - Received cookie reply", peer)
}

func (device *Device) handleTransportLocked(packet []byte, src netip.AddrPort) {
	if len(packet) < MessageTransportSize {
		device.stats.InvalidPacketLen++
		return
	}

	receiver := binary.LittleEndian.Uint32(packet[MessageTransportOffsetReceiver:])
	counter := binary.LittleEndian.Uint64(packet[MessageTransportOffsetCounter:])

	peer, keypair := device.lookupKeypair(receiver)
	if peer == nil {
		device.stats.PeerNotFound++
		return
	}

	now := device.timeNow()
	if !now.Before(keypair.expires) || keypair.sendingCounter >= RejectAfterMessages {
		device.destroyKeypairLocked(peer, keypair)
		device.stats.KeyExpired++
		return
	}

	content := packet[MessageTransportOffsetContent:]
	nonce := aeadNonce(counter)
	plaintext, err := keypair.receive.Open(content[:0], nonce[:], content, nil)
	if err != nil {
		device.stats.DecryptFailed++
		return
	}

	if !keypair.replayFilter.ValidateCounter(counter) {
		device.stats.ReplayError++
		return
	}

	// A message whose encrypted payload is a bare tag carries an empty
	// inner packet: a keepalive. It confirms the session but is never
	// delivered upward.
	if len(content) == poly1305.TagSize || len(plaintext) == 0 {
		device.acceptAuthenticated(peer, keypair, src, now)
		device.stats.KeepaliveRX++
		device.log.Verbosef("%v - Receiving keepalive packet", peer)
		return
	}

	inner, ok := parseInnerPacket(plaintext)
	if !ok {
		device.stats.InvalidIPVersion++
		return
	}

	// Filter the inner source before the peer's state is touched (only the
	// replay window has recorded the counter): a packet the peer may not
	// source must not move the endpoint or the ring.
	if !peer.allowedIP(inner.src) {
		device.stats.DeniedIP++
		device.log.Verbosef("%v - Inner source %v not in allowed ips", peer, inner.src)
		return
	}

	device.acceptAuthenticated(peer, keypair, src, now)

	if inner.totalLen > len(plaintext) {
		device.stats.InvalidPacketLen++
		return
	}

	if _, err := device.tun.Write(plaintext[:inner.totalLen]); err != nil {
		device.stats.DropRX++
		return
	}
	device.stats.ValidRX++
}

// acceptAuthenticated applies the state updates every authenticated
// transport message earns: endpoint roaming, receive timestamps, ring
// promotion and the receive-side rekey triggers.
func (device *Device) acceptAuthenticated(peer *Peer, keypair *Keypair, src netip.AddrPort, now time.Time) {
	peer.updateEndpoint(src)
	peer.lastRX = now
	keypair.lastRX = now

	peer.keypairs.promote(keypair)

	if keypair.sendingCounter >= RekeyAfterMessages {
		peer.sendHandshake = true
	} else if keypair.isInitiator && !now.Before(keypair.expires.Add(-RekeyGraceTime)) {
		peer.sendHandshake = true
	}
}
