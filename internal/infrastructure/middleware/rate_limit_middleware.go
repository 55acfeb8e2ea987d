package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"livecast/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// mediaRateFactor scales the configured request rate for playlist and
// segment fetches. A single viewer polls the playlist and pulls a segment
// or two every cycle, and several viewers can sit behind one address, so
// media traffic is legitimately an order of magnitude above API traffic.
const mediaRateFactor = 10

const (
	// idleEvictAfter drops limiters for addresses not seen in a while,
	// so the store does not grow with every viewer that ever connected.
	idleEvictAfter = 10 * time.Minute

	// sweepThreshold and sweepMinGap bound how often the eviction scan
	// runs; below the threshold the map is too small to matter.
	sweepThreshold = 256
	sweepMinGap    = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore keeps one limiter per client address and evicts idle
// entries during lookups.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rate      rate.Limit
	burstSize int
	lastSweep time.Time
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*clientLimiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if len(s.limiters) > sweepThreshold && now.Sub(s.lastSweep) > sweepMinGap {
		for k, cl := range s.limiters {
			if now.Sub(cl.lastSeen) > idleEvictAfter {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	cl, exists := s.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	// Try X-Forwarded-For first (behind proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := net.ParseIP(xff)
		if parts != nil {
			return parts.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Traffic classes get separate per-address budgets. One shared budget
// would either starve playback polling or leave the API wide open.
func classify(path string) string {
	switch {
	case strings.HasPrefix(path, "/ws/"):
		return "channel"
	case strings.HasPrefix(path, "/live/"):
		return "media"
	default:
		return "api"
	}
}

// NewHTTPRateLimitMiddleware returns gin middleware that applies per-IP
// rate limiting with separate budgets per traffic class: API calls at the
// configured rate, media fetches at a playback-sized multiple of it, and
// channel joins at the configured connections-per-minute.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond)
	burst := cfg.RateLimiting.HTTP.Burst

	joinsPerMinute := cfg.RateLimiting.WebSocket.ConnectionsPerMinute

	stores := map[string]*rateLimiterStore{
		"api":     newRateLimiterStore(rps, burst),
		"media":   newRateLimiterStore(rps*mediaRateFactor, burst*mediaRateFactor),
		"channel": newRateLimiterStore(rate.Limit(float64(joinsPerMinute)/60.0), joinsPerMinute),
	}

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		// Global concurrent requests throttling
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		class := classify(c.Request.URL.Path)
		limiter := stores[class].getLimiter(clientIP(c.Request))
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       class + " rate limit exceeded",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}
