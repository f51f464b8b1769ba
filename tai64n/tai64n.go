/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package tai64n implements the TAI64N timestamp format used to order
// handshake initiations: 8 bytes of big-endian seconds followed by 4 bytes
// of big-endian nanoseconds.
package tai64n

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	TimestampSize = 12
	base          = uint64(0x400000000000000a)
	whitenerMask  = uint32(0x1000000 - 1)
)

type Timestamp [TimestampSize]byte

// At converts a wall-clock time to TAI64N. The low bits of the nanosecond
// field are masked off so that timestamps do not leak a precise clock.
func At(t time.Time) Timestamp {
	var tai64n Timestamp
	secs := base + uint64(t.Unix())
	nano := uint32(t.Nanosecond()) &^ whitenerMask
	binary.BigEndian.PutUint64(tai64n[:], secs)
	binary.BigEndian.PutUint32(tai64n[8:], nano)
	return tai64n
}

func Now() Timestamp {
	return At(time.Now())
}

// After reports whether t1 is strictly greater than t2. The encoding is
// big-endian, so plain byte comparison gives chronological order.
func (t1 Timestamp) After(t2 Timestamp) bool {
	return bytes.Compare(t1[:], t2[:]) > 0
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09d",
		binary.BigEndian.Uint64(t[:8])-base,
		binary.BigEndian.Uint32(t[8:]))
}
