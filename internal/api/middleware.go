package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BikeshR/menorepo-sub007/internal/monitor"
)

// IPLimiter hands out one token bucket per client IP.
type IPLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*ipEntry
}

type ipEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func NewIPLimiter(perSecond float64, burst int) *IPLimiter {
	return &IPLimiter{limit: rate.Limit(perSecond), burst: burst, limiters: make(map[string]*ipEntry)}
}

// Allow reports whether ip may make a request now.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	e, ok := l.limiters[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = e
	}
	e.seen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Sweep forgets clients idle for longer than idle and returns how many.
func (l *IPLimiter) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, e := range l.limiters {
		if e.seen.Before(cutoff) {
			delete(l.limiters, ip)
			n++
		}
	}
	return n
}

// RunSweeper sweeps idle clients every interval until ctx ends.
func (l *IPLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep(interval)
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting
func RateLimitMiddleware(l *IPLimiter, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.Allow(ip) {
			log.Warnw("api: rate limit exceeded", "ip", ip)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":  "RATE_LIMITED",
				"error": "too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}

// TimeoutMiddleware bounds the request context. Handlers pass it down, so a
// slow submission is cancelled at the broker call. Websocket streams are
// exempt.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs all API requests with timing and status and records
// their latency.
func RequestLogger(log *zap.SugaredLogger, latency *monitor.LatencyHistogram) gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := monitor.NewTimer(latency)
		c.Next()
		elapsed := timer.Stop()

		requestID := c.GetString("RequestID")
		if len(requestID) > 8 {
			requestID = requestID[:8]
		}
		log.Infow("api: request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", elapsed,
			"ip", c.ClientIP(),
		)
	}
}
