package middleware

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/markov-tgbot-go/internal/config"
)

// RateLimiter caps how often the bot may reply in a single chat
type RateLimiter interface {
	Allow(chatID int64) bool
	Reset(chatID int64)
}

// ChatRateLimiter implements per-chat reply rate limiting
type ChatRateLimiter struct {
	enabled         bool
	limiters        map[int64]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger) RateLimiter {
	if !cfg.RateLimit.Enabled {
		return &ChatRateLimiter{enabled: false}
	}

	rl := &ChatRateLimiter{
		enabled:         true,
		limiters:        make(map[int64]*rate.Limiter),
		rpm:             cfg.RateLimit.RepliesPerMinute,
		burst:           cfg.RateLimit.Burst,
		logger:          logger,
		cleanupInterval: 1 * time.Hour,
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if the bot may still reply in this chat
func (r *ChatRateLimiter) Allow(chatID int64) bool {
	if !r.enabled {
		return true
	}

	limiter := r.getLimiter(chatID)
	allowed := limiter.Allow()

	if !allowed {
		r.logger.WithFields(logrus.Fields{
			"chat_id": chatID,
		}).Warn("Reply rate limit exceeded")
	}

	return allowed
}

// Reset resets the rate limiter for a chat
func (r *ChatRateLimiter) Reset(chatID int64) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, chatID)
	r.mu.Unlock()
}

// getLimiter gets or creates a rate limiter for a chat
func (r *ChatRateLimiter) getLimiter(chatID int64) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[chatID]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[chatID]; exists {
		return limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[chatID] = limiter

	return limiter
}

// cleanup bounds the limiter map for long-lived processes
func (r *ChatRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		if len(r.limiters) > 10000 {
			r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
			r.limiters = make(map[int64]*rate.Limiter)
		}
		r.mu.Unlock()
	}
}
