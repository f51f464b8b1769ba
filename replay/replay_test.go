/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package replay

import "testing"

func TestReplayFilter(t *testing.T) {
	var filter Filter

	const rejectAfterMessages = ^uint64(0) - (1 << 13)

	testNumber := 0
	expect := func(seq uint64, want bool) {
		t.Helper()
		testNumber++
		if got := filter.ValidateCounter(seq); got != want {
			t.Errorf("test %d: ValidateCounter(%d) = %v, want %v", testNumber, seq, got, want)
		}
	}

	filter.Reset()

	expect(0, true)  /* 1 */
	expect(1, true)  /* 2 */
	expect(1, false) /* 3 */
	expect(9, true)  /* 4 */
	expect(8, true)  /* 5 */
	expect(7, true)  /* 6 */
	expect(7, false) /* 7 */

	// Jump ahead: the window slides and the oldest counters die.
	expect(windowSize+4, true)     /* 8 */
	expect(6, true)                /* 9: diff 30, still in window */
	expect(5, true)                /* 10: diff 31, window edge */
	expect(4, false)               /* 11: diff 32, too old */
	expect(windowSize+4, false)    /* 12 */
	expect(windowSize+3, true)     /* 13 */
	expect(windowSize+3, false)    /* 14 */
	expect(2*windowSize+10, true)  /* 15 */
	expect(2*windowSize+10, false) /* 16 */

	filter.Reset()

	// Window edge: with greatest seen S, S-windowSize+1 is acceptable
	// and S-windowSize+... below is not.
	expect(windowSize, true)    /* 17 */
	expect(1, true)             /* 18: diff = windowSize-1, in window */
	expect(0, false)            /* 19: diff = windowSize, out */
	expect(windowSize+1, true)  /* 20 */
	expect(1, false)            /* 21: now out of window */
	expect(2, true)             /* 22 */

	filter.Reset()

	// Counter wrap guard.
	expect(^uint64(0), false)            /* 23 */
	expect(rejectAfterMessages, true)    /* 24 */
	expect(rejectAfterMessages-1, true)  /* 25 */
	expect(rejectAfterMessages, false)   /* 26 */
	expect(rejectAfterMessages+10, true) /* 27 */

	filter.Reset()
	expect(0, true) /* 28: zero accepted exactly once after reset */
	expect(0, false)
}

func TestReplaySequential(t *testing.T) {
	var filter Filter
	for i := uint64(0); i < 1000; i++ {
		if !filter.ValidateCounter(i) {
			t.Fatalf("in-order counter %d rejected", i)
		}
	}
	for i := uint64(0); i < 1000; i++ {
		if filter.ValidateCounter(i) {
			t.Fatalf("replayed counter %d accepted", i)
		}
	}
}
