package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	authPathPrefix = "/api/v1/auth"

	// maxTrackedClients caps the limiter table. Past it, idle clients are
	// dropped first and then the least recently seen one.
	maxTrackedClients = 10000
	gcThreshold       = 1000
	idleClientTTL     = 10 * time.Minute
)

type clientLimiter struct {
	general  *rate.Limiter
	auth     *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware keeps one token bucket pair per client IP as resolved by
// ClientIP, so spoofed forwarding headers do not open new buckets. Requests
// under /api/v1/auth draw from the stricter auth bucket. A non-positive
// general limit disables the general bucket.
type RateLimitMiddleware struct {
	generalRPM int
	authRPM    int
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	lastSweep  time.Time
}

func NewRateLimitMiddleware(generalRPM int, authRPM int) *RateLimitMiddleware {
	if authRPM <= 0 {
		authRPM = 10
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		clients:    map[string]*clientLimiter{},
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := m.getLimiter(ClientIP(r))

		target := limiter.general
		if strings.HasPrefix(strings.ToLower(r.URL.Path), authPathPrefix) {
			target = limiter.auth
		}

		if target != nil && !target.Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = time.Now()
		m.gcLocked()
		return limiter
	}

	created := &clientLimiter{
		auth:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.authRPM)), m.authRPM),
		lastSeen: time.Now(),
	}
	if m.generalRPM > 0 {
		created.general = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.generalRPM)), m.generalRPM)
	}
	m.clients[clientIP] = created
	m.gcLocked()

	return created
}

func (m *RateLimitMiddleware) gcLocked() {
	if len(m.clients) < gcThreshold {
		return
	}

	now := time.Now()
	if now.Sub(m.lastSweep) >= time.Minute {
		m.lastSweep = now
		cutoff := now.Add(-idleClientTTL)
		for ip, limiter := range m.clients {
			if limiter.lastSeen.Before(cutoff) {
				delete(m.clients, ip)
			}
		}
	}

	for len(m.clients) > maxTrackedClients {
		var (
			oldestIP   string
			oldestSeen time.Time
		)
		for ip, limiter := range m.clients {
			if oldestIP == "" || limiter.lastSeen.Before(oldestSeen) {
				oldestIP, oldestSeen = ip, limiter.lastSeen
			}
		}
		delete(m.clients, oldestIP)
	}
}

func (m *RateLimitMiddleware) trackedClients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
