package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/delivery-auth/internal/config"
	"github.com/spec-kit/delivery-auth/pkg/util/errorutil"
)

const limiterCleanupInterval = 5 * time.Minute

// RateLimiter throttles credential-checking endpoints per client IP.
type RateLimiter struct {
	limiters    sync.Map // map[string]*rate.Limiter
	rate        rate.Limit
	burst       int
	perMinute   int
	logger      *zap.Logger
	mu          sync.Mutex
	lastCleanup time.Time
}

// NewRateLimiter builds a limiter allowing cfg.LoginPerMinute requests per minute per IP.
// A non-positive rate disables limiting.
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rate:        rate.Limit(float64(cfg.LoginPerMinute) / time.Minute.Seconds()),
		burst:       burst,
		perMinute:   cfg.LoginPerMinute,
		logger:      logger,
		lastCleanup: time.Now(),
	}
}

// Handle is the fiber middleware.
func (rl *RateLimiter) Handle(c *fiber.Ctx) error {
	if rl == nil || rl.perMinute <= 0 {
		return c.Next()
	}

	key := c.IP()
	limiter := rl.limiter(key)
	if limiter.Allow() {
		return c.Next()
	}

	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	retryAfter := max(int(delay.Seconds()), 1)

	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	c.Set("X-RateLimit-Limit", strconv.Itoa(rl.perMinute))
	rl.logger.Warn("rate limit exceeded",
		zap.String("ip", key),
		zap.String("path", c.Path()),
		zap.Int("retry_after", retryAfter))
	return errorutil.NewTooManyRequests("too many requests, try again later")
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	rl.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup forgets limiters whose bucket has refilled.
func (rl *RateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < limiterCleanupInterval {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}
