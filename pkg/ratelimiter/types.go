package ratelimiter

import "time"

// Result is the outcome of one limiter check.
type Result struct {
	Limit     int       // bucket capacity
	Remaining int       // tokens left, negative when denied
	ResetAt   time.Time // next refill
}

func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long a denied caller should wait, relative to now.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(r.ResetAt.Sub(now), 0)
}

// Config is the token bucket shape.
type Config struct {
	Capacity       int           `env:"CAPACITY" envDefault:"120"` // burst
	RefillRate     int           `env:"REFILL_RATE" envDefault:"2"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s"`
}
