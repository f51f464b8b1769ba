/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package replay implements an efficient anti-replay algorithm as specified
// in RFC 2401 appendix C, with a 32-bit sliding window. One Filter guards
// the receiving direction of one keypair.
package replay

const windowSize = 32

// A Filter rejects replayed packet counters while tolerating out-of-order
// delivery within windowSize packets of the greatest counter seen so far.
// It is not safe for concurrent use.
type Filter struct {
	counter uint64
	bitmap  uint32
}

// Reset prepares the filter for use with a fresh keypair.
func (f *Filter) Reset() {
	f.counter = 0
	f.bitmap = 0
}

// ValidateCounter checks and records the given counter. The wire counter is
// 0-based while the window algorithm is 1-based, so the value is shifted up
// by one first; a counter that wraps to zero is always rejected.
func (f *Filter) ValidateCounter(seq uint64) bool {
	seq++
	if seq == 0 {
		return false
	}

	if seq > f.counter {
		diff := seq - f.counter
		if diff < windowSize {
			f.bitmap <<= diff
			f.bitmap |= 1
		} else {
			f.bitmap = 1
		}
		f.counter = seq
		return true
	}

	diff := f.counter - seq
	if diff >= windowSize {
		return false
	}
	bit := uint32(1) << diff
	if f.bitmap&bit != 0 {
		return false
	}
	f.bitmap |= bit
	return true
}
