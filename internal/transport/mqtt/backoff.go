package mqtt

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays that double from Min up to Max.
type Backoff struct {
	// Min is the first delay. Defaults to 1/8s.
	Min time.Duration

	// Max caps the delay before jitter. Defaults to 30s.
	Max time.Duration

	// NoJitter removes the default ±5% jitter.
	NoJitter bool
}

// Interval returns the delay before the given attempt, counting from 1.
func (b Backoff) Interval(attempt uint64) time.Duration {
	if attempt == 0 {
		attempt = 1
	}

	minInterval := b.Min
	if minInterval <= 0 {
		minInterval = time.Second / 8
	}

	maxInterval := b.Max
	if maxInterval < minInterval {
		maxInterval = max(30*time.Second, minInterval)
	}

	factor := math.Pow(2, min(
		float64(attempt-1),
		math.Log2(float64(maxInterval)/float64(minInterval)),
	))
	if !b.NoJitter {
		factor = jitter(factor)
	}

	return time.Duration(factor * float64(minInterval))
}

// jitter scales base by a random factor between 0.95 and 1.05.
func jitter(base float64) float64 {
	// #nosec G404
	return base * (0.95 + rand.Float64()*0.1)
}
