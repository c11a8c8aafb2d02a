package infrastructure

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type chatKey struct {
	tenantID int64
	chatID   int64
}

type chatBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MessageRateLimiter is a token bucket per (tenant, chat), used to keep
// automatic replies from flooding a chat.
type MessageRateLimiter struct {
	mu          sync.Mutex
	buckets     map[chatKey]*chatBucket
	limit       rate.Limit
	burst       int
	idle        time.Duration
	cleanupTick time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMessageRateLimiter allows burst messages at once and then one per every.
func NewMessageRateLimiter(every time.Duration, burst int) *MessageRateLimiter {
	rl := &MessageRateLimiter{
		buckets:     make(map[chatKey]*chatBucket),
		limit:       rate.Every(every),
		burst:       burst,
		idle:        10 * time.Minute,
		cleanupTick: 5 * time.Minute,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow consumes one token for the chat if one is available.
func (rl *MessageRateLimiter) Allow(tenantID, chatID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	key := chatKey{tenantID, chatID}
	b, ok := rl.buckets[key]
	if !ok {
		b = &chatBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Reset forgets the chat's bucket.
func (rl *MessageRateLimiter) Reset(tenantID, chatID int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, chatKey{tenantID, chatID})
}

// Len returns the number of tracked chats.
func (rl *MessageRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Stop ends the cleanup goroutine.
func (rl *MessageRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *MessageRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep removes buckets idle for longer than rl.idle.
func (rl *MessageRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idle {
			delete(rl.buckets, key)
		}
	}
}
