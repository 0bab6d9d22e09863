package retry

import (
	"math/rand"
	"time"
)

// backoff returns the delay before retry number attempt (0-indexed): the
// base delay doubled per attempt, capped at MaxDelay, with optional jitter
// so simultaneous retries spread out.
func backoff(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay || delay <= 0 { // <= 0 catches shift overflow
		delay = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		spread := cfg.Jitter * (rand.Float64()*2 - 1)
		delay = time.Duration(float64(delay) * (1 + spread))
	}
	if delay < 0 {
		return 0
	}
	return delay
}
