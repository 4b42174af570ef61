package av

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

const (
	jitterFactor        = 0.25
	jitterPrecision     = 1000
	jitterHalfPrecision = jitterPrecision / 2
)

// reconnectDelay returns the wait before reconnect attempt n (1-based). The
// first attempt is immediate.
func reconnectDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := base
	for i := 2; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	return calculateBackoff(delay, maxDelay)
}

// calculateBackoff applies +-25% jitter to base, capped at maxDelay.
func calculateBackoff(base, maxDelay time.Duration) time.Duration {
	delay := float64(base)
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(jitterPrecision))
	if err != nil {
		return time.Duration(delay)
	}
	jitter := delay * jitterFactor * (float64(n.Int64())/jitterHalfPrecision - 1)
	result := delay + jitter
	if result < 0 {
		result = float64(base)
	}
	if result > float64(maxDelay) {
		result = float64(maxDelay)
	}
	return time.Duration(math.Max(result, 0))
}
