package server

import (
	"sync"
	"time"
)

// RateLimiter blocks a client IP after too many FAILED admin token
// attempts within a window. Successful authentications reset the count.
//
// Flow:
//  1. Check IsBlocked() - if true, reject with 429
//  2. Compare the bearer token
//  3. If it does not match: RecordFailure()
//  4. If it matches: Reset()
type RateLimiter struct {
	mu       sync.RWMutex
	failures map[string]*rateLimitEntry
	limit    int           // max failures before blocking
	window   time.Duration // time window for counting failures
	now      func() time.Time
}

type rateLimitEntry struct {
	count     int       // number of failed attempts
	resetTime time.Time // when this entry expires
}

// NewRateLimiter creates a new rate limiter. Expired entries are dropped
// lazily by Sweep, which the server calls periodically.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		failures: make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// IsBlocked returns true if the IP has exceeded the failure limit.
func (rl *RateLimiter) IsBlocked(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return false
	}

	if rl.now().After(entry.resetTime) {
		return false
	}

	return entry.count >= rl.limit
}

// RecordFailure records a failed authentication attempt.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.failures[ip]

	if !ok || now.After(entry.resetTime) {
		rl.failures[ip] = &rateLimitEntry{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return
	}

	entry.count++
}

// Reset clears the failure count for an IP.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// FailureCount returns the current failure count for an IP.
func (rl *RateLimiter) FailureCount(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return 0
	}

	if rl.now().After(entry.resetTime) {
		return 0
	}

	return entry.count
}

// Sweep removes expired entries.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, entry := range rl.failures {
		if now.After(entry.resetTime) {
			delete(rl.failures, ip)
		}
	}
}

// Len returns the number of tracked IPs.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.failures)
}
