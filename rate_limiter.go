package snapserver

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles inbound messages per session.
// Messages over the limit are dropped before they reach OnData/OnText.
type RateLimiter struct {
	clients map[*Session]*rate.Limiter
	mu      sync.RWMutex
	// Number of message allowed per second
	mps int
	// Number of bursts allowed
	burst int
	// Called when the session exceeds the limit.
	// Returning a non-nil error stops the session.
	OnRateLimitHit func(s *Session) error
}

func NewRateLimiter(mps, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[*Session]*rate.Limiter),
		mps:     mps,
		burst:   burst,
	}
}

func (rl *RateLimiter) getLimiter(s *Session) *rate.Limiter {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.clients[s]
}

func (rl *RateLimiter) addClient(s *Session) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.clients[s] = rate.NewLimiter(rate.Limit(rl.mps), rl.burst)
}

func (rl *RateLimiter) removeClient(s *Session) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, s)
}

func (rl *RateLimiter) allow(s *Session) bool {
	l := rl.getLimiter(s)
	if l == nil {
		return true
	}

	return l.Allow()
}

// hit runs OnRateLimitHit and returns the error that should end the session, if any.
func (rl *RateLimiter) hit(s *Session) error {
	if rl.OnRateLimitHit == nil {
		return nil
	}
	return rl.OnRateLimitHit(s)
}

// Len returns the number of sessions currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}
