package livereload

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/leslieo2/devreload/internal/config"
	"github.com/leslieo2/devreload/internal/constants"
	"github.com/leslieo2/devreload/internal/observability"
)

// HandshakeLimiter bounds how often a single client IP may open LiveReload
// connections. A browser tab stuck in a reconnect loop is the usual
// offender.
type HandshakeLimiter struct {
	limiters *cache.Cache
	config   config.HandshakeLimitConfig
	metrics  *observability.Metrics
}

// NewHandshakeLimiter returns a limiter keeping one token bucket per client
// IP. Idle buckets expire after config.Expiry.
func NewHandshakeLimiter(cfg config.HandshakeLimitConfig, metrics *observability.Metrics) *HandshakeLimiter {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = constants.HandshakeLimiterExpiry
	}
	return &HandshakeLimiter{
		limiters: cache.New(expiry, expiry*2),
		config:   cfg,
		metrics:  metrics,
	}
}

// Allow consumes a token for identifier.
func (l *HandshakeLimiter) Allow(identifier string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.limiter(identifier).Allow()
}

func (l *HandshakeLimiter) limiter(key string) *rate.Limiter {
	if item, found := l.limiters.Get(key); found {
		return item.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize)
	if err := l.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// lost the race to another request from the same client
		if item, found := l.limiters.Get(key); found {
			return item.(*rate.Limiter)
		}
	}
	return limiter
}

// retryAfter estimates when the next token is available.
func (l *HandshakeLimiter) retryAfter() time.Duration {
	if l.config.RequestsPerSecond <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(l.config.RequestsPerSecond))
}

// Middleware rejects over-limit requests with 429 before any upgrade.
func (l *HandshakeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.config.Enabled || r.URL.Path == constants.PathHealth {
			next.ServeHTTP(w, r)
			return
		}

		if l.Allow(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		l.metrics.RecordHandshakeFailure(reasonRateLimited)
		retryAfter := l.retryAfter()
		retrySeconds := int(math.Ceil(retryAfter.Seconds()))

		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		w.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(retrySeconds))
		w.WriteHeader(http.StatusTooManyRequests)

		response := map[string]any{
			"error":       constants.ErrorCodeRateLimitExceeded,
			"message":     fmt.Sprintf("Too many connection attempts. Try again in %v", retryAfter),
			"retry_after": retrySeconds,
		}
		_ = json.NewEncoder(w).Encode(response)
	})
}

// clientIP returns the host part of RemoteAddr. Forwarding headers are
// folded into RemoteAddr by the router before this runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
