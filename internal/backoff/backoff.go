// Package backoff computes retry delays for failed jobs.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config for exponential backoff
type Config struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"` // fraction of the delay, 0.0 to 1.0
}

// DefaultConfig waits 5s after the first failure, doubling up to the lease length
func DefaultConfig() Config {
	return Config{
		BaseDelay:  5 * time.Second,
		MaxDelay:   10 * time.Minute,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Delay is the wait before the retry that follows failed delivery number attempt.
// min(base * multiplier^(attempt-1), max) +/- jitter
func (c Config) Delay(attempt uint32) time.Duration {
	if attempt == 0 {
		return 0
	}

	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * c.Jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Until is the time a retry scheduled at now becomes due
func (c Config) Until(now time.Time, attempt uint32) time.Time {
	return now.Add(c.Delay(attempt))
}
