package security

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter limits requests per key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// InMemoryRateLimiter is a token bucket per key
type InMemoryRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger
	now    func() time.Time

	buckets map[string]*tokenBucket
	mutex   sync.Mutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter and starts its
// cleanup goroutine. Call Stop to release it.
func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerMinute
	}

	rl := &InMemoryRateLimiter{
		config:      config,
		logger:      logger,
		now:         time.Now,
		buckets:     make(map[string]*tokenBucket),
		stopCleanup: make(chan struct{}),
	}
	rl.startCleanup()

	return rl
}

// Allow takes one token from key's bucket.
func (rl *InMemoryRateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := rl.now()
	if !rl.config.Enabled {
		return &RateLimitResult{
			Allowed:   true,
			Limit:     rl.config.BurstSize,
			Remaining: rl.config.BurstSize,
			ResetTime: now,
		}, nil
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[key] = bucket
	}

	perToken := time.Minute / time.Duration(rl.config.RequestsPerMinute)
	if elapsed := now.Sub(bucket.lastRefill); elapsed > 0 {
		bucket.tokens = math.Min(bucket.tokens+float64(elapsed)/float64(perToken), float64(rl.config.BurstSize))
		bucket.lastRefill = now
	}

	full := time.Duration((float64(rl.config.BurstSize) - bucket.tokens) * float64(perToken))
	if bucket.tokens >= 1 {
		bucket.tokens--
		return &RateLimitResult{
			Allowed:   true,
			Limit:     rl.config.BurstSize,
			Remaining: int(bucket.tokens),
			ResetTime: now.Add(full + perToken),
		}, nil
	}

	retryAfter := time.Duration((1 - bucket.tokens) * float64(perToken))

	rl.logger.WithFields(logrus.Fields{
		"key":         maskKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return &RateLimitResult{
		Allowed:    false,
		Limit:      rl.config.BurstSize,
		Remaining:  0,
		ResetTime:  now.Add(full),
		RetryAfter: retryAfter,
	}, nil
}

// Reset forgets key's bucket
func (rl *InMemoryRateLimiter) Reset(ctx context.Context, key string) error {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	delete(rl.buckets, key)
	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.config.CleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

// cleanup removes buckets that have refilled completely
func (rl *InMemoryRateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.now().Add(-time.Duration(rl.config.BurstSize) * time.Minute / time.Duration(rl.config.RequestsPerMinute))

	removed := 0
	for key, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.WithField("removed_buckets", removed).Debug("Rate limit cleanup completed")
	}
}

// Stop stops the cleanup goroutine
func (rl *InMemoryRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}

// RateLimitMiddleware rejects requests over the limit with 429.
func RateLimitMiddleware(rateLimiter RateLimiter, keyExtractor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := rateLimiter.Allow(r.Context(), key)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "api_error", "Rate limiting error")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeErrorDetail(w, http.StatusTooManyRequests, ErrorDetail{
					Message:    "Rate limit exceeded",
					Type:       "rate_limit_error",
					Code:       http.StatusTooManyRequests,
					RetryAfter: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyExtractor keys by authenticated caller, falling back to client IP
func DefaultKeyExtractor(r *http.Request) string {
	if authInfo, ok := GetAuthInfo(r.Context()); ok && authInfo.UserID != "anonymous" {
		return "user:" + authInfo.UserID
	}
	return "ip:" + GetClientIP(r)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}
