package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pokjoy/qfeng5/internal/utils"
)

// InvalidCodeRateLimiter counts failed access-code attempts per IP.
// Only failures are counted; a blocked IP is refused until its window ends.
type InvalidCodeRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptInfo
	limit    int
	window   time.Duration
	now      func() time.Time
}

type attemptInfo struct {
	count   int
	firstAt time.Time
}

// NewInvalidCodeRateLimiter allows limit failures per window.
func NewInvalidCodeRateLimiter(limit int, window time.Duration) *InvalidCodeRateLimiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &InvalidCodeRateLimiter{
		attempts: make(map[string]*attemptInfo),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Fail records a failed attempt and reports whether ip is still allowed
// to try again.
func (r *InvalidCodeRateLimiter) Fail(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	info, exists := r.attempts[ip]
	if !exists || now.Sub(info.firstAt) > r.window {
		r.attempts[ip] = &attemptInfo{count: 1, firstAt: now}
		return r.limit > 1
	}
	info.count++
	return info.count < r.limit
}

// Blocked reports whether ip has used up its failures for the current window.
func (r *InvalidCodeRateLimiter) Blocked(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.attempts[ip]
	if !exists {
		return false
	}
	if r.now().Sub(info.firstAt) > r.window {
		delete(r.attempts, ip)
		return false
	}
	return info.count >= r.limit
}

// Handle refuses requests from blocked IPs before they reach the handler.
func (r *InvalidCodeRateLimiter) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.Blocked(c.ClientIP()) {
			utils.Error(c, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many invalid access code attempts")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Cleanup drops expired windows until ctx is done.
func (r *InvalidCodeRateLimiter) Cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *InvalidCodeRateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for ip, info := range r.attempts {
		if now.Sub(info.firstAt) > r.window {
			delete(r.attempts, ip)
		}
	}
}
