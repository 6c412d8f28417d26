package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/liamcoop/fraudrules/internal/logger"
	"github.com/liamcoop/fraudrules/internal/metrics"
	"github.com/liamcoop/fraudrules/rules"
)

const slowRequestThreshold = time.Second

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	RequestsPerSecond float64       // <= 0 disables limiting
	BurstSize         int           // Burst size
	CleanupInterval   time.Duration // How often to cleanup unused limiters
}

// IPRateLimiter manages rate limiters per client IP
type IPRateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	config   RateLimiterConfig
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter. Stale entries are
// only dropped while Cleanup runs.
func NewIPRateLimiter(config RateLimiterConfig) *IPRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}
	return &IPRateLimiter{
		limiters: make(map[string]*limiterEntry),
		config:   config,
		now:      time.Now,
	}
}

// Allow reports whether a request from ip may proceed
func (rl *IPRateLimiter) Allow(ip string) bool {
	if rl.config.RequestsPerSecond <= 0 {
		return true
	}

	rl.mu.Lock()
	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = rl.now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Cleanup drops limiters idle for a full interval until ctx is done
func (rl *IPRateLimiter) Cleanup(ctx context.Context) error {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *IPRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.config.CleanupInterval {
			delete(rl.limiters, ip)
		}
	}
}

// Middleware rejects requests over the per-IP rate with 429
func (rl *IPRateLimiter) Middleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientIP(r)) {
				if m != nil {
					m.RateLimitedTotal.Inc()
				}
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP expects middleware.RealIP to have run first
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// simulatedLatency delays every request by d, giving up early if the client leaves
func simulatedLatency(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-r.Context().Done():
				return
			case <-timer.C:
			}
			next.ServeHTTP(w, r)
		})
	}
}

// actor attaches the X-Actor header, when present, as the acting user
func actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name := r.Header.Get("X-Actor"); name != "" {
			r = r.WithContext(rules.WithActor(r.Context(), name))
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request and feeds the HTTP counters and metrics
func requestLogger(log *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if m != nil {
				m.ObserveHTTP(r.Method, route, status, elapsed.Seconds())
			}

			attrs := []any{
				"method", r.Method,
				"route", route,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			}
			switch {
			case status >= 500:
				logger.ErrorHttp5xx()
				log.Error("Request failed", attrs...)
			case status >= 400:
				logger.WarnHttp4xx(status)
				log.Info("Request rejected", attrs...)
			default:
				log.Debug("Request served", attrs...)
			}
			if elapsed > slowRequestThreshold {
				logger.WarnSlowRequest()
				log.Warn("Slow request", attrs...)
			}
		})
	}
}
