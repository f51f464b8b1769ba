/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"

	"github.com/nordwire/wgcore/conn"
	"github.com/nordwire/wgcore/ratelimiter"
	"github.com/nordwire/wgcore/tun"
)

// A Device is one tunnel interface: the local static identity, the peer
// set, the cookie state and the statistics. One mutex guards all of it;
// the three entry points (inbound datagram, outbound inner packet,
// periodic tick) each take it for the duration of one message.
type Device struct {
	log  *Logger
	bind conn.Bind
	tun  tun.Device

	mu sync.Mutex

	staticIdentity struct {
		privateKey NoisePrivateKey
		publicKey  NoisePublicKey
	}

	cookie struct {
		mac1Key       [blake2s.Size]byte // Hash(Label-MAC1 || Spub)
		encryptionKey [blake2s.Size]byte // Hash(Label-Cookie || Spub)
		secret        [blake2s.Size]byte
		secretExpires time.Time
	}

	peers      []*Peer
	peerByKey  map[NoisePublicKey]*Peer
	nextPeerID int

	stats Stats

	rate      ratelimiter.Ratelimiter
	underLoad func() bool

	// timeNow is the device clock; tests substitute it.
	timeNow func() time.Time

	port    uint16
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewDevice(tunDevice tun.Device, bind conn.Bind, logger *Logger) *Device {
	device := &Device{
		log:       logger,
		bind:      bind,
		tun:       tunDevice,
		peerByKey: make(map[NoisePublicKey]*Peer),
		timeNow:   time.Now,
	}
	device.rate.Init()
	return device
}

// SetPrivateKey installs the interface identity. Changing the key
// invalidates every session and recomputes the per-peer static-static
// DH values.
func (device *Device) SetPrivateKey(sk NoisePrivateKey) error {
	device.mu.Lock()
	defer device.mu.Unlock()

	sk.clamp()
	if sk.Equals(device.staticIdentity.privateKey) {
		return nil
	}

	device.staticIdentity.privateKey = sk
	device.staticIdentity.publicKey = sk.publicKey()
	device.initCookieState()

	for _, peer := range device.peers {
		peer.handshake.clear()
		peer.keypairs.destroyAll()
		ss, err := sk.sharedSecret(peer.publicKey)
		if err != nil {
			setZero(peer.precomputedStaticStatic[:])
			continue
		}
		peer.precomputedStaticStatic = ss
		macKey(&peer.labelMAC1Key, WGLabelMAC1, peer.publicKey)
		macKey(&peer.labelCookieKey, WGLabelCookie, peer.publicKey)
	}
	return nil
}

// PublicKey returns the interface's static public key.
func (device *Device) PublicKey() NoisePublicKey {
	device.mu.Lock()
	defer device.mu.Unlock()
	return device.staticIdentity.publicKey
}

// SetUnderLoad overrides the under-load predicate. With no override the
// handshake ratelimiter supplies the signal.
func (device *Device) SetUnderLoad(fn func() bool) {
	device.mu.Lock()
	defer device.mu.Unlock()
	device.underLoad = fn
}

// isUnderLoad decides whether the handshake from src must prove a cookie.
// The source is charged against the ratelimiter either way so that
// sustained floods keep the device under load.
func (device *Device) isUnderLoad(src netip.AddrPort) bool {
	allowed := device.rate.Allow(src.Addr())
	if device.underLoad != nil {
		return device.underLoad()
	}
	return !allowed || device.rate.UnderLoad()
}

// Stats returns a snapshot of the interface counters.
func (device *Device) Stats() Stats {
	device.mu.Lock()
	defer device.mu.Unlock()
	return device.stats
}

// Up opens the bind on the given port (0 picks one) and starts the
// datagram pump, the tun pump and the periodic timer.
func (device *Device) Up(port uint16) error {
	device.mu.Lock()
	defer device.mu.Unlock()

	if device.closed {
		return ErrDeviceClosed
	}
	if device.running {
		return nil
	}

	actual, err := device.bind.Open(port)
	if err != nil {
		return err
	}
	device.port = actual
	device.stop = make(chan struct{})
	device.running = true

	device.wg.Add(3)
	go device.routineReadFromBind()
	go device.routineReadFromTUN()
	go device.routineTimer()

	return nil
}

// Close stops the pumps, closes the bind and the tun device, and zeroes
// all keying material. A closed device cannot be brought up again.
func (device *Device) Close() error {
	device.mu.Lock()
	if device.closed {
		device.mu.Unlock()
		return nil
	}
	device.closed = true
	wasRunning := device.running
	device.running = false
	if wasRunning {
		close(device.stop)
	}
	device.mu.Unlock()

	// Closing the bind and the tun unblocks the reader pumps.
	err := device.bind.Close()
	device.tun.Close()
	if wasRunning {
		device.wg.Wait()
	}

	device.mu.Lock()
	defer device.mu.Unlock()
	for _, peer := range device.peers {
		peer.wipe()
	}
	device.peers = nil
	device.peerByKey = make(map[NoisePublicKey]*Peer)
	setZero(device.staticIdentity.privateKey[:])
	device.rate.Close()
	return err
}

// ListenPort returns the port the bind is open on.
func (device *Device) ListenPort() uint16 {
	device.mu.Lock()
	defer device.mu.Unlock()
	return device.port
}

func (device *Device) routineReadFromBind() {
	defer device.wg.Done()
	buf := make([]byte, MaxMessageSize)
	for {
		n, src, err := device.bind.Receive(buf)
		if err != nil {
			select {
			case <-device.stop:
			default:
				device.log.Errorf("Failed to receive datagram: %v", err)
			}
			return
		}
		device.HandleDatagram(buf[:n], src)
	}
}

func (device *Device) routineReadFromTUN() {
	defer device.wg.Done()
	buf := make([]byte, DefaultMTU+IPv6headerSize)
	for {
		n, err := device.tun.Read(buf)
		if err != nil {
			select {
			case <-device.stop:
			default:
				device.log.Errorf("Failed to read packet from TUN device: %v", err)
			}
			return
		}
		device.RoutePacket(buf[:n])
	}
}

// RoutePacket encrypts an outbound inner packet toward the peer whose
// allowed IPs cover its destination.
func (device *Device) RoutePacket(packet []byte) error {
	inner, ok := parseInnerPacket(packet)
	if !ok {
		device.mu.Lock()
		device.stats.InvalidIPVersion++
		device.mu.Unlock()
		return ErrInvalidMessage
	}

	device.mu.Lock()
	peer := device.routeToPeer(inner.dst)
	if peer == nil {
		device.stats.DropTX++
		device.mu.Unlock()
		return ErrNoRoute
	}
	err := device.sendPacketLocked(peer, packet)
	device.mu.Unlock()
	return err
}

// Keepalive sends an on-demand keepalive to the peer with the given id.
func (device *Device) Keepalive(id int) error {
	device.mu.Lock()
	defer device.mu.Unlock()
	for _, peer := range device.peers {
		if peer.id == id {
			return device.sendKeepaliveLocked(peer)
		}
	}
	return ErrUnknownPeer
}
