package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL drops per-client limiters unused for this long. Zero keeps
	// them forever.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           5 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client IP.
type limiterSet struct {
	cfg       RateLimitConfig
	now       func() time.Time
	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

func newLimiterSet(cfg RateLimitConfig) *limiterSet {
	return &limiterSet{
		cfg:       cfg,
		now:       time.Now,
		clients:   make(map[string]*client),
		lastSweep: time.Now(),
	}
}

func (s *limiterSet) allow(ip string) bool {
	now := s.now()

	s.mu.Lock()
	c, ok := s.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.clients[ip] = c
	}
	c.lastSeen = now
	s.sweepLocked(now)
	s.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

func (s *limiterSet) sweepLocked(now time.Time) {
	if s.cfg.IdleTTL <= 0 || now.Sub(s.lastSweep) < s.cfg.IdleTTL {
		return
	}
	s.lastSweep = now
	for ip, c := range s.clients {
		if now.Sub(c.lastSeen) >= s.cfg.IdleTTL {
			delete(s.clients, ip)
		}
	}
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	return rateLimit(newLimiterSet(cfg))
}

func rateLimit(set *limiterSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !set.allow(c.ClientIP()) {
			reject(c)
			return
		}
		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			reject(c)
			return
		}
		c.Next()
	}
}

func reject(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
	})
}
