package queue

import (
	"errors"
	"math/rand"
	"time"
)

// ErrPermanent marks a handler error that must not be retried
var ErrPermanent = errors.New("permanent failure")

// RetryManager manages retry logic for failed messages
type RetryManager struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryManager creates a new RetryManager
func NewRetryManager(maxRetries int, baseDelay time.Duration) *RetryManager {
	return &RetryManager{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   baseDelay * 16, // Maximum 16x base delay
	}
}

// ShouldRetry determines if a message should be retried and returns the delay
func (r *RetryManager) ShouldRetry(msg *Message, err error) (bool, time.Duration) {
	limit := msg.MaxRetries
	if limit <= 0 {
		limit = r.maxRetries
	}
	if msg.Attempts >= limit {
		return false, 0
	}

	if err == nil || errors.Is(err, ErrPermanent) {
		return false, 0
	}

	return true, r.calculateBackoff(msg.Attempts)
}

// calculateBackoff calculates exponential backoff delay with jitter
func (r *RetryManager) calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return r.baseDelay
	}

	// Exponential backoff: base * 2^(attempt-1)
	backoff := r.baseDelay * time.Duration(1<<(attempt-1))

	// Apply jitter (±25%)
	if half := int64(backoff / 4); half > 0 {
		jitter := time.Duration(rand.Int63n(half))
		if rand.Intn(2) == 0 {
			backoff += jitter
		} else {
			backoff -= jitter
		}
	}

	// Cap at maximum delay
	if backoff > r.maxDelay {
		backoff = r.maxDelay
	}

	return backoff
}
