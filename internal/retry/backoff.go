// Package retry computes reconnect delays and schedules cancellable retries.
package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff produces exponentially growing delays of the form
// min(Base*2^attempt + jitter, Cap). It is not safe for concurrent use.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	// MaxAttempts bounds Next. Zero means unlimited.
	MaxAttempts int

	// Jitter returns a random duration in [0, n). Defaults to math/rand.
	Jitter func(n time.Duration) time.Duration

	attempt int
}

// Delay returns the delay before retry number attempt, counting from zero.
// Jitter stays below Base so delays never shrink as attempt grows.
func (b *Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	capped := b.Cap
	if capped < b.Base {
		capped = b.Base
	}

	d := capped
	// Past 62 doublings the shift overflows; the cap applies well before.
	if attempt < 62 && b.Base <= capped>>attempt {
		d = b.Base << attempt
	}
	d += b.jitter()
	return min(d, capped)
}

// Next returns the delay for the next attempt and advances the counter. It
// reports false once MaxAttempts attempts have been handed out.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.Exhausted() {
		return 0, false
	}
	d := b.Delay(b.attempt)
	b.attempt++
	return d, true
}

// Attempt is the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Exhausted reports whether Next would refuse another attempt.
func (b *Backoff) Exhausted() bool {
	return b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts
}

// Reset starts the sequence over.
func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) jitter() time.Duration {
	if b.Base <= 1 {
		return 0
	}
	if b.Jitter != nil {
		return min(max(b.Jitter(b.Base), 0), b.Base-1)
	}
	return rand.N(b.Base)
}
