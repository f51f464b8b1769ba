/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "time"

/* Protocol timing and volume limits, from the whitepaper. These are not
 * tunables.
 */
const (
	RekeyAfterMessages      = uint64(1) << 60
	RejectAfterMessages     = ^uint64(0) - (uint64(1) << 13)
	RekeyTimeout            = time.Second * 5
	RekeyAfterTime          = time.Second * 120
	RejectAfterTime         = time.Second * 180
	KeepaliveTimeout        = uint16(25) /* upper bound for the configured interval, seconds */
	CookieRefreshTime       = time.Second * 120
	HandshakeInitationRate  = time.Second / 2
	PaddingMultiple         = 16
)

/* RekeyGraceTime is how long before keypair expiry the initiator starts a
 * fresh handshake: REJECT_AFTER_TIME - REKEY_AFTER_TIME.
 */
const RekeyGraceTime = RejectAfterTime - RekeyAfterTime

const (
	// TimerPeriod is the cadence of the peer maintenance walk.
	TimerPeriod = 500 * time.Millisecond
)

const (
	MaxPeers      = 16
	MaxAllowedIPs = 4
	DefaultMTU    = 1420

	// MaxMessageSize bounds any WireGuard message the bind can hand us.
	MaxMessageSize = 65535
)
