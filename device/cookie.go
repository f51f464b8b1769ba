/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/hmac"
	"encoding/binary"
	"net/netip"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

const CookieSize = blake2s.Size128

/* Cookie checking is the interface half of DoS mitigation: every incoming
 * handshake message must carry a mac1 keyed by our public key, and while
 * under load also a mac2 keyed by a cookie we minted for the sender's
 * source address. The generating half lives on the peer (addMacs,
 * consumeCookieReply) because its keys derive from the peer's public key.
 */

// sourceBytes serializes the address a cookie binds to: two bytes of
// big-endian port followed by the raw 4- or 16-byte address.
func sourceBytes(src netip.AddrPort) []byte {
	addr := src.Addr().Unmap()
	var b []byte
	b = binary.BigEndian.AppendUint16(b, src.Port())
	if addr.Is4() {
		four := addr.As4()
		return append(b, four[:]...)
	}
	sixteen := addr.As16()
	return append(b, sixteen[:]...)
}

// initCookieState derives the label keys from the interface public key.
func (device *Device) initCookieState() {
	macKey(&device.cookie.mac1Key, WGLabelMAC1, device.staticIdentity.publicKey)
	macKey(&device.cookie.encryptionKey, WGLabelCookie, device.staticIdentity.publicKey)
	device.cookie.secretExpires = time.Time{}
}

// refreshCookieSecret rotates the cookie secret lazily once it is older
// than CookieRefreshTime.
func (device *Device) refreshCookieSecret(now time.Time) error {
	if !device.cookie.secretExpires.IsZero() && now.Before(device.cookie.secretExpires) {
		return nil
	}
	if err := randBytes(device.cookie.secret[:]); err != nil {
		return err
	}
	device.cookie.secretExpires = now.Add(CookieRefreshTime)
	return nil
}

// checkMAC1 verifies the mac1 field of a handshake message, which covers
// everything before it.
func (device *Device) checkMAC1(msg []byte) bool {
	size := len(msg)
	startMAC2 := size - blake2s.Size128
	startMAC1 := startMAC2 - blake2s.Size128

	var mac1 [blake2s.Size128]byte
	mac(&mac1, device.cookie.mac1Key[:], msg[:startMAC1])
	return hmac.Equal(mac1[:], msg[startMAC1:startMAC2])
}

// checkMAC2 verifies the mac2 field against a cookie recomputed from the
// current secret and the message source. A rotated-away secret simply
// fails the check, which sends the initiator a fresh cookie.
func (device *Device) checkMAC2(msg []byte, src netip.AddrPort, now time.Time) bool {
	if device.cookie.secretExpires.IsZero() || now.After(device.cookie.secretExpires) {
		return false
	}

	var cookie [CookieSize]byte
	mac(&cookie, device.cookie.secret[:], sourceBytes(src))

	startMAC2 := len(msg) - blake2s.Size128
	var mac2 [blake2s.Size128]byte
	mac(&mac2, cookie[:], msg[:startMAC2])
	return hmac.Equal(mac2[:], msg[startMAC2:])
}

// createCookieReply builds a cookie reply for a handshake message that
// had a valid mac1 but no acceptable mac2 while under load.
func (device *Device) createCookieReply(mac1 []byte, receiver uint32, src netip.AddrPort, now time.Time) (*MessageCookieReply, error) {
	if err := device.refreshCookieSecret(now); err != nil {
		return nil, err
	}

	var cookie [CookieSize]byte
	mac(&cookie, device.cookie.secret[:], sourceBytes(src))

	reply := new(MessageCookieReply)
	reply.Type = MessageCookieReplyType
	reply.Receiver = receiver
	if err := randBytes(reply.Nonce[:]); err != nil {
		return nil, err
	}

	xchapoly, _ := chacha20poly1305.NewX(device.cookie.encryptionKey[:])
	xchapoly.Seal(reply.Cookie[:0], reply.Nonce[:], cookie[:], mac1)

	return reply, nil
}

// addMacs computes mac1 (always) and mac2 (under a live cookie) over a
// marshaled outbound handshake message, and caches mac1 so a cookie reply
// can be bound to it later.
func (peer *Peer) addMacs(packet []byte, now time.Time) {
	size := len(packet)
	startMAC2 := size - blake2s.Size128
	startMAC1 := startMAC2 - blake2s.Size128

	var mac1 [blake2s.Size128]byte
	mac(&mac1, peer.labelMAC1Key[:], packet[:startMAC1])
	copy(packet[startMAC1:startMAC2], mac1[:])

	peer.handshakeMAC1 = mac1
	peer.handshakeMAC1Valid = true

	if peer.cookieExpires.IsZero() || now.After(peer.cookieExpires) {
		return
	}

	var mac2 [blake2s.Size128]byte
	mac(&mac2, peer.cookie[:], packet[:startMAC2])
	copy(packet[startMAC2:], mac2[:])
}

// consumeCookieReply decrypts a cookie reply against the mac1 of our last
// outbound initiation and installs the cookie for CookieRefreshTime.
func (peer *Peer) consumeCookieReply(msg *MessageCookieReply, now time.Time) bool {
	if !peer.handshakeMAC1Valid {
		return false
	}

	var cookie [CookieSize]byte
	xchapoly, _ := chacha20poly1305.NewX(peer.labelCookieKey[:])
	_, err := xchapoly.Open(cookie[:0], msg.Nonce[:], msg.Cookie[:], peer.handshakeMAC1[:])
	if err != nil {
		return false
	}

	peer.cookie = cookie
	peer.cookieExpires = now.Add(CookieRefreshTime)
	peer.handshakeMAC1Valid = false
	return true
}
