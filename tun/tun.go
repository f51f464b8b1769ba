/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package tun abstracts the virtual L3 interface presented to the host
// network stack. The tunnel core reads outbound plaintext packets from a
// Device and writes decrypted inbound packets back to it; how those packets
// reach the operating system is the Device implementation's business.
package tun

import "errors"

var ErrDeviceClosed = errors.New("tun device is closed")

type Device interface {
	// Read blocks until the host stack emits an outbound IP packet and
	// copies it into buf.
	Read(buf []byte) (int, error)

	// Write delivers a decrypted inbound IP packet to the host stack.
	Write(packet []byte) (int, error)

	MTU() int

	Close() error
}
