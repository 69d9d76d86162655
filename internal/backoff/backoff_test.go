package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay(t *testing.T) {
	cfg := Config{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 3.0,
	}

	tests := []struct {
		attempt  uint32
		expected time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 3 * time.Second},
		{3, 9 * time.Second},
		{4, 27 * time.Second},
		{5, time.Minute},
		{40, time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, cfg.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jitter = 0.2

	base := 20 * time.Second // 5s * 2^2
	for i := 0; i < 50; i++ {
		d := cfg.Delay(3)
		assert.GreaterOrEqual(t, float64(d), float64(base)*0.8)
		assert.LessOrEqual(t, float64(d), float64(base)*1.2)
	}
}

func TestUntil(t *testing.T) {
	cfg := Config{BaseDelay: 10 * time.Second, MaxDelay: time.Hour, Multiplier: 2}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(20*time.Second), cfg.Until(now, 2))
	assert.Equal(t, now, cfg.Until(now, 0))
}
