/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

// Stats counts protocol events on one interface. Every dropped message
// increments exactly one counter, which keeps the drop paths auditable.
// The counters are guarded by the device mutex; Device.Stats returns a
// snapshot.
type Stats struct {
	KeepaliveRX      uint64
	KeepaliveTX      uint64
	PeerNotFound     uint64
	KeyExpired       uint64
	InvalidPacket    uint64
	InvalidKey       uint64
	InvalidPacketLen uint64
	InvalidHandshake uint64
	InvalidCookie    uint64
	InvalidMAC1      uint64
	InvalidMAC2      uint64
	DecryptFailed    uint64
	DropRX           uint64
	DropTX           uint64
	InvalidIPVersion uint64
	DeniedIP         uint64
	ReplayError      uint64
	RateLimited      uint64
	ValidRX          uint64
	ValidTX          uint64
	HandshakeInitRX  uint64
	HandshakeInitTX  uint64
	HandshakeRespRX  uint64
	HandshakeRespTX  uint64
}
