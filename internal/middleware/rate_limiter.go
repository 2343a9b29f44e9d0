package middleware

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiterConfig configures per-client rate limiting. A non-positive
// RequestsPerSecond disables the limiter.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL is how long an unused client limiter is kept.
	IdleTTL time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters keeps one token bucket per client IP
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	config  RateLimiterConfig
}

func newClientLimiters(config RateLimiterConfig) *clientLimiters {
	if config.Burst <= 0 {
		config.Burst = int(math.Max(1, math.Ceil(config.RequestsPerSecond)))
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		config:  config,
	}
}

func (cl *clientLimiters) get(ip string, now time.Time) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	entry, ok := cl.clients[ip]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(cl.config.RequestsPerSecond), cl.config.Burst)}
		cl.clients[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// evictIdle drops limiters not used within IdleTTL
func (cl *clientLimiters) evictIdle(now time.Time) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	evicted := 0
	for ip, entry := range cl.clients {
		if now.Sub(entry.lastSeen) > cl.config.IdleTTL {
			delete(cl.clients, ip)
			evicted++
		}
	}
	return evicted
}

func (cl *clientLimiters) janitor() {
	ticker := time.NewTicker(cl.config.IdleTTL)
	defer ticker.Stop()
	for now := range ticker.C {
		if n := cl.evictIdle(now); n > 0 {
			log.WithField("evicted", n).Debug("> rate limiter evicted idle clients")
		}
	}
}

// RateLimiterMiddleware rejects clients exceeding their budget with 429 and
// a retry_after hint in seconds.
func RateLimiterMiddleware(config RateLimiterConfig) gin.HandlerFunc {
	if config.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := newClientLimiters(config)
	go limiters.janitor()

	return func(c *gin.Context) {
		now := time.Now()
		limiter := limiters.get(c.ClientIP(), now)
		if !limiter.AllowN(now, 1) {
			reservation := limiter.ReserveN(now, 1)
			retryAfter := reservation.DelayFrom(now).Seconds()
			reservation.CancelAt(now)

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded. Please try again later.",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
