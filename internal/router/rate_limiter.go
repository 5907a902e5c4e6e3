package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter holds one token bucket per sender.
// ARCHITECTURAL DISCOVERY: Idle buckets are swept on a ticker so a long-lived
// process does not accumulate one limiter per user ever seen
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	clients map[string]*clientLimit
	stopCh  chan struct{}
	once    sync.Once
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute messages per sender with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int, cleanupInterval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:   rate.Inf,
		burst:   burst,
		idle:    10 * time.Minute,
		clients: make(map[string]*clientLimit),
		stopCh:  make(chan struct{}),
	}
	if perMinute > 0 {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if rl.burst <= 0 {
		rl.burst = 1
	}
	if cleanupInterval > 0 {
		go rl.cleanupLoop(cleanupInterval)
	}
	return rl
}

// Allow consumes one token for the sender.
func (rl *RateLimiter) Allow(userID string) bool {
	return rl.limiter(userID).Allow()
}

func (rl *RateLimiter) limiter(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if c, ok := rl.clients[userID]; ok {
		c.lastSeen = time.Now()
		return c.limiter
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients[userID] = &clientLimit{limiter: l, lastSeen: time.Now()}
	return l
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup(time.Now().Add(-rl.idle))
		case <-rl.stopCh:
			return
		}
	}
}

// Cleanup drops buckets not used since cutoff.
func (rl *RateLimiter) Cleanup(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, userID)
		}
	}
}

// tracked reports how many senders currently hold a bucket.
func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}
