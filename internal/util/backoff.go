package util

import (
	"math"
	"time"
)

// DefaultMaxBackoffSeconds bounds CalculateEndpointBackoff regardless
// of how large a multiplier is fed in; CalculateExponentialBackoff is
// capped by its own maxDelay argument instead.
const DefaultMaxBackoffSeconds = 60 * time.Second

// CalculateExponentialBackoff computes exponential backoff with optional jitter.
// Formula: baseDelay * 2^(attempt-1), capped at maxDelay
func CalculateExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration, jitterPercent float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))

	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitterPercent > 0 {
		// Time-based pseudo-random avoids import of math/rand
		pseudoRandom := float64(time.Now().UnixNano()%1000) / 1000.0
		jitter := backoff * jitterPercent * (pseudoRandom - 0.5)
		backoff += jitter
	}

	return time.Duration(backoff)
}

// CalculateEndpointBackoff computes backoff interval for endpoint health checks:
// checkInterval times backoffMultiplier, capped at DefaultMaxBackoffSeconds.
func CalculateEndpointBackoff(checkInterval time.Duration, backoffMultiplier int) time.Duration {
	if backoffMultiplier <= 0 {
		return checkInterval
	}

	// Use the provided multiplier as given; the health monitor passes its
	// consecutive-failure count (1, 2, 3...), so the interval grows linearly
	backoffInterval := checkInterval * time.Duration(backoffMultiplier)

	if backoffInterval > DefaultMaxBackoffSeconds {
		backoffInterval = DefaultMaxBackoffSeconds
	}

	return backoffInterval
}
