package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// DefaultRetryHTTPCodes are the statuses treated as transient.
var DefaultRetryHTTPCodes = []int{500, 502, 503, 504, 522, 524, 408, 429}

// RetryConfig tunes ExponentialRetryPolicy.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	HTTPCodes  []int
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	retryCodes  map[int]struct{}
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return NewRetryPolicy(RetryConfig{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		HTTPCodes:  DefaultRetryHTTPCodes,
	})
}

// NewRetryPolicy builds a policy from cfg.
func NewRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	codes := make(map[int]struct{}, len(cfg.HTTPCodes))
	for _, c := range cfg.HTTPCodes {
		codes[c] = struct{}{}
	}
	return &ExponentialRetryPolicy{
		maxAttempts: cfg.MaxRetries + 1,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		retryCodes:  codes,
	}
}

// MaxAttempts returns the total number of attempts allowed.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable. attempt is 1-based.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	// Per-request timeouts surface as deadline errors and stay retryable;
	// the caller checks its own context before retrying.
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fetchErr *catalog.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Status > 0 {
		_, ok := p.retryCodes[fetchErr.Status]
		return ok
	}
	// Network and transport errors carry no status and are transient.
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
