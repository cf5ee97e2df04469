// SPDX-License-Identifier: MIT

// Package ratelimiter bounds how often a single source address may attempt
// an inbound TLS handshake, independent of whether the handshake or the
// fingerprint check that follows it ultimately succeeds.
package ratelimiter

import (
	"net/netip"
	"sync"
	"time"
)

const (
	attemptsPerSecond  = 20
	attemptsBurstable  = 5
	garbageCollectTime = time.Second
	attemptCost        = 1000000000 / attemptsPerSecond
	maxTokens          = attemptCost * attemptsBurstable
)

type entry struct {
	mu       sync.Mutex
	lastTime time.Time
	tokens   int64
}

// Ratelimiter is a per-source-address token bucket. Zero value is not
// usable; call Init first.
type Ratelimiter struct {
	mu      sync.RWMutex
	timeNow func() time.Time

	stopReset chan struct{} // send to reset, close to stop
	table     map[netip.Addr]*entry
}

func (r *Ratelimiter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopReset != nil {
		close(r.stopReset)
	}
}

func (r *Ratelimiter) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timeNow == nil {
		r.timeNow = time.Now
	}

	if r.stopReset != nil {
		close(r.stopReset)
	}

	r.stopReset = make(chan struct{})
	r.table = make(map[netip.Addr]*entry)

	stopReset := r.stopReset // store in case Init is called again

	go func() {
		ticker := time.NewTicker(time.Second)
		ticker.Stop()
		for {
			select {
			case _, ok := <-stopReset:
				ticker.Stop()
				if !ok {
					return
				}
				ticker = time.NewTicker(time.Second)
			case <-ticker.C:
				if r.cleanup() {
					ticker.Stop()
				}
			}
		}
	}()
}

func (r *Ratelimiter) cleanup() (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.table {
		e.mu.Lock()
		if r.timeNow().Sub(e.lastTime) > garbageCollectTime {
			delete(r.table, key)
		}
		e.mu.Unlock()
	}

	return len(r.table) == 0
}

// Allow reports whether a new inbound connection attempt from ip should be
// accepted. The server loop calls this before TLS handshake so a source
// hammering a rejected fingerprint cannot burn accept-loop cycles forever.
func (r *Ratelimiter) Allow(ip netip.Addr) bool {
	r.mu.RLock()
	e := r.table[ip]
	r.mu.RUnlock()

	if e == nil {
		e = new(entry)
		e.tokens = maxTokens - attemptCost
		e.lastTime = r.timeNow()
		r.mu.Lock()
		r.table[ip] = e
		if len(r.table) == 1 {
			r.stopReset <- struct{}{}
		}
		r.mu.Unlock()
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := r.timeNow()
	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > maxTokens {
		e.tokens = maxTokens
	}

	if e.tokens > attemptCost {
		e.tokens -= attemptCost
		return true
	}
	return false
}
