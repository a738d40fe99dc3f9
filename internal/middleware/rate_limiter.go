package middleware

import (
	"net/http"
	"sync"
	"time"

	"bencidata/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ── Per-IP token buckets ──────────────────────────────────────────────────────

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu  sync.RWMutex
	ips map[string]*limiterEntry
	r   rate.Limit
	b   int
	now func() time.Time
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{ips: make(map[string]*limiterEntry), r: r, b: b, now: time.Now}
}

// GetLimiter returns the bucket of ip, creating it on first use.
func (l *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	now := l.now()
	l.mu.RLock()
	e, ok := l.ips[ip]
	l.mu.RUnlock()
	if ok {
		l.mu.Lock()
		e.lastSeen = now
		l.mu.Unlock()
		return e.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.ips[ip]; ok {
		e.lastSeen = now
		return e.limiter
	}
	e = &limiterEntry{limiter: rate.NewLimiter(l.r, l.b), lastSeen: now}
	l.ips[ip] = e
	return e.limiter
}

// Purge drops buckets idle for longer than idle and returns how many were removed.
func (l *IPRateLimiter) Purge(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	purged := 0
	for ip, e := range l.ips {
		if e.lastSeen.Before(cutoff) {
			delete(l.ips, ip)
			purged++
		}
	}
	return purged
}

// Len is the number of tracked IPs.
func (l *IPRateLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ips)
}

const purgeInterval = 5 * time.Minute

func (l *IPRateLimiter) purgeLoop() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for range ticker.C {
		if n := l.Purge(purgeInterval); n > 0 {
			log.Debug().Int("purged", n).Int("remaining", l.Len()).Msg("rate limiter buckets purged")
		}
	}
}

// ── Middlewares ───────────────────────────────────────────────────────────────

// RateLimiter limits authenticated API traffic per IP and answers 429.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewIPRateLimiter(r, b)
	go limiter.purgeLoop()
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New("Demasiadas solicitudes. Intente nuevamente en un momento."))
			return
		}
		c.Next()
	}
}

// DeviceRateLimiter guards the device channel. Controllers only understand
// 200 and 400 with a plain-text body, so throttled reports get a 400.
func DeviceRateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewIPRateLimiter(r, b)
	go limiter.purgeLoop()
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			log.Warn().Str("ip", c.ClientIP()).Msg("device report throttled")
			c.Data(http.StatusBadRequest, "text/plain; charset=utf-8", []byte("Demasiadas solicitudes"))
			c.Abort()
			return
		}
		c.Next()
	}
}
