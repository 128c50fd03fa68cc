package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client address
type RateLimiter struct {
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
	rateLimit rate.Limit
	burstSize int
}

// NewRateLimiter creates a limiter refilling at rateLimit tokens per second
// with room for burstSize requests
func NewRateLimiter(rateLimit rate.Limit, burstSize int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rateLimit,
		burstSize: burstSize,
	}
}

// GetLimiter returns the bucket for ip, creating it on first use
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rateLimit, rl.burstSize)
		rl.limiters[ip] = limiter
	}

	return limiter
}

// NewRateLimitMiddleware allows hourLimit requests per hour per client
func NewRateLimitMiddleware(hourLimit int, logger zerolog.Logger) func(http.Handler) http.Handler {
	return limitMiddleware(NewRateLimiter(rate.Limit(float64(hourLimit)/3600.0), hourLimit), "Rate limit exceeded", logger)
}

// NewWebhookRateLimitMiddleware allows limit webhook deliveries per minute
// per client
func NewWebhookRateLimitMiddleware(limit int, logger zerolog.Logger) func(http.Handler) http.Handler {
	return limitMiddleware(NewRateLimiter(rate.Limit(float64(limit)/60.0), limit), "Webhook rate limit exceeded", logger)
}

func limitMiddleware(limiter *RateLimiter, msg string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			reservation := limiter.GetLimiter(ip).Reserve()
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				logger.Warn().Str("ip", ip).Str("path", r.URL.Path).Dur("retry_after", delay).Msg(msg)
				w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port so every connection from one address shares a
// bucket. RealIP has already replaced RemoteAddr behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
