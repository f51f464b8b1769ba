/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package ratelimiter admits or rejects handshake work per source address
// using a token bucket, and exposes the aggregate rejection pressure as the
// under-load signal that arms cookie-based DoS mitigation.
package ratelimiter

import (
	"net/netip"
	"sync"
	"time"
)

const (
	handshakesPerSecond  = 10
	handshakesBurstable  = 5
	handshakeCost        = int64(time.Second) / handshakesPerSecond
	maxTokens            = handshakeCost * handshakesBurstable
	garbageCollectAfter  = 10 * time.Second
	underLoadGracePeriod = time.Second
)

type entry struct {
	mu       sync.Mutex
	lastTime time.Time
	tokens   int64
}

type Ratelimiter struct {
	mu      sync.RWMutex
	timeNow func() time.Time

	table        map[netip.Addr]*entry
	lastRejected time.Time

	stopGC chan struct{}
}

// Init prepares the limiter and starts its garbage collector. It may be
// called again to reset all state.
func (r *Ratelimiter) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timeNow == nil {
		r.timeNow = time.Now
	}
	if r.stopGC != nil {
		close(r.stopGC)
	}
	r.stopGC = make(chan struct{})
	r.table = make(map[netip.Addr]*entry)
	r.lastRejected = time.Time{}

	stop := r.stopGC
	go func() {
		ticker := time.NewTicker(garbageCollectAfter)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.collect()
			}
		}
	}()
}

func (r *Ratelimiter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopGC != nil {
		close(r.stopGC)
		r.stopGC = nil
	}
}

func (r *Ratelimiter) collect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.table {
		e.mu.Lock()
		if r.timeNow().Sub(e.lastTime) > garbageCollectAfter {
			delete(r.table, key)
		}
		e.mu.Unlock()
	}
}

// Allow reports whether a handshake from the given source should be
// processed. A rejection marks the limiter as under load for
// underLoadGracePeriod.
func (r *Ratelimiter) Allow(ip netip.Addr) bool {
	r.mu.RLock()
	e := r.table[ip]
	r.mu.RUnlock()

	if e == nil {
		e = &entry{
			tokens:   maxTokens - handshakeCost,
			lastTime: r.timeNow(),
		}
		r.mu.Lock()
		r.table[ip] = e
		r.mu.Unlock()
		return true
	}

	e.mu.Lock()
	now := r.timeNow()
	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > maxTokens {
		e.tokens = maxTokens
	}
	if e.tokens >= handshakeCost {
		e.tokens -= handshakeCost
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	r.mu.Lock()
	r.lastRejected = now
	r.mu.Unlock()
	return false
}

// UnderLoad reports whether the limiter rejected a handshake recently.
// While true, handshake messages must carry a valid mac2.
func (r *Ratelimiter) UnderLoad() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastRejected.IsZero() {
		return false
	}
	return r.timeNow().Sub(r.lastRejected) < underLoadGracePeriod
}
