package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/andrew/avatar-studio/internal/fingerprint"
)

type deviceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter bounds requests per device fingerprint
type RateLimiter struct {
	perMinute int
	idleAfter time.Duration
	limiters  map[string]*deviceLimiter
	mu        sync.RWMutex
	now       func() time.Time
}

// NewRateLimiter allows perMinute requests per device with an equal burst
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &RateLimiter{
		perMinute: perMinute,
		idleAfter: 10 * time.Minute,
		limiters:  make(map[string]*deviceLimiter),
		now:       time.Now,
	}
}

// DeviceKey is the fingerprint hash of the requesting device
func DeviceKey(r *http.Request) string {
	return fingerprint.Generate(fingerprint.FromRequest(r)).Hash
}

// RateLimit enforces the per-device limit
func (m *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.getLimiter(DeviceKey(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getLimiter gets or creates the limiter for a device
func (m *RateLimiter) getLimiter(key string) *rate.Limiter {
	now := m.now()

	m.mu.RLock()
	dl, exists := m.limiters[key]
	m.mu.RUnlock()

	if exists {
		m.mu.Lock()
		dl.lastSeen = now
		m.mu.Unlock()
		return dl.limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if dl, exists := m.limiters[key]; exists {
		dl.lastSeen = now
		return dl.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(float64(m.perMinute)/60.0), m.perMinute)
	m.limiters[key] = &deviceLimiter{limiter: limiter, lastSeen: now}
	return limiter
}

// Cleanup drops limiters idle longer than the idle window, returning how many
func (m *RateLimiter) Cleanup() int {
	cutoff := m.now().Add(-m.idleAfter)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, dl := range m.limiters {
		if dl.lastSeen.Before(cutoff) {
			delete(m.limiters, key)
			removed++
		}
	}
	return removed
}

// Run removes idle limiters periodically until ctx is done
func (m *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}
