/*
Package limiter provides keyed rate limiting.

It utilizes the Token Bucket algorithm (rate.Limiter) to control the event frequency per key
(a client IP address for handshakes, a user identity for sent messages) and includes a cleanup
goroutine to periodically remove inactive limiters, preventing memory leaks.
*/
package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"duochat/internal/metrics"
	"duochat/internal/pkg/errs"
	"duochat/internal/pkg/logx"
	"duochat/internal/pkg/resp"
)

const cleanupInterval = 3 * time.Minute

// RateLimiter implements a concurrency-safe rate limiter keyed by an arbitrary string.
type RateLimiter struct {
	// scope names the limiter in logs and metrics (e.g. "handshake", "send").
	scope string

	// mu is used to protect concurrent access to the limits map.
	mu sync.RWMutex

	// limits stores the map from key to the *rate.Limiter instance.
	limits map[string]*rate.Limiter

	// r is the rate (rate.Limit) of the limiter, defining the number of events allowed per second.
	r rate.Limit

	// b is the burst size (token bucket size) of the limiter, defining the maximum burst allowed.
	b int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates and returns a new RateLimiter instance.
// It accepts rate r and burst capacity b, and starts a background goroutine to periodically
// clean up inactive limiters until Stop is called.
func NewRateLimiter(scope string, r rate.Limit, b int) *RateLimiter {
	l := &RateLimiter{
		scope:  scope,
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
		stop:   make(chan struct{}),
	}

	go l.cleanUpVisitors()

	return l
}

// GetLimiter retrieves the rate limiter corresponding to the given key.
// If the limiter for that key does not exist, a new one is created and stored in the map.
// It uses a Double-Checked Locking pattern to ensure concurrent-safe creation of new limiters.
func (l *RateLimiter) GetLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limits[key]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		limiter, exists = l.limits[key]
		if !exists {
			limiter = rate.NewLimiter(l.r, l.b)
			l.limits[key] = limiter
		}
		l.mu.Unlock()
	}

	return limiter
}

// Allow reports whether an event for key may happen now, and counts the rejection otherwise.
func (l *RateLimiter) Allow(key string) bool {
	if l.GetLimiter(key).Allow() {
		return true
	}

	metrics.RateLimitHits.WithLabelValues(l.scope).Inc()
	return false
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// cleanUpVisitors periodically cleans up inactive rate limiters.
// A key is considered inactive and removed if its token bucket is full
// (i.e., tokens equal to the burst capacity), which frees up memory.
func (l *RateLimiter) cleanUpVisitors() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			removed, remaining := l.sweep(now)
			logx.Debug("Rate limiter cleanup finished",
				"scope", l.scope, "removed", removed, "remaining", remaining)
		}
	}
}

// sweep drops every limiter whose bucket is full at now.
func (l *RateLimiter) sweep(now time.Time) (removed, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, limiter := range l.limits {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(l.limits, key)
			removed++
		}
	}
	return removed, len(l.limits)
}

// ClientIP returns the remote IP of r, without the port.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if ip == "" {
		ip = "unknown_ip"
	}
	return ip
}

// Middleware returns an HTTP middleware that rate limits requests per client IP.
// If a request exceeds the limit, it responds with a 429 Too Many Requests error.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		if !l.Allow(ip) {
			logx.Warn("Request rejected: Rate limit exceeded.", "scope", l.scope, "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}
