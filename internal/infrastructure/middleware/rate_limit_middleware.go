package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"streamrelay/pkg/config"
	apperrors "streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore keeps one limiter per client key.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

// clientIP prefers the first X-Forwarded-For hop, then the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func passThrough(c *gin.Context) {
	c.Next()
}

// NewHTTPRateLimitMiddleware applies per-IP request rate limiting and an
// optional cap on concurrent requests.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				abortWith(c, apperrors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}

		if !store.getLimiter(clientIP(c.Request)).Allow() {
			abortWith(c, apperrors.NewRateLimitError().WithDetail("retry_after_seconds", 1))
			return
		}
		c.Next()
	}
}

// NewWebSocketRateLimitMiddleware limits how often one IP may open signaling
// connections and how many may be open at once. The slot is held until the
// websocket handler returns.
func NewWebSocketRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	ws := cfg.RateLimiting.WebSocket
	perSecond := rate.Limit(float64(ws.ConnectionsPerMinute) / 60)
	store := newRateLimiterStore(perSecond, max(ws.ConnectionsPerMinute/6, 1))
	retryAfter := max(60/max(ws.ConnectionsPerMinute, 1), 1)

	var slots chan struct{}
	if ws.MaxConcurrent > 0 {
		slots = make(chan struct{}, ws.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if !store.getLimiter(clientIP(c.Request)).Allow() {
			abortWith(c, apperrors.NewRateLimitError().WithDetail("retry_after_seconds", retryAfter))
			return
		}

		if slots != nil {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
			default:
				abortWith(c, apperrors.NewServiceUnavailableError("too many signaling connections"))
				return
			}
		}
		c.Next()
	}
}

