package state

import (
	"math/rand"
	"time"
)

// Backoff implements the exponential backoff schedule §7 specifies: 5s to a
// 300s ceiling, factor 2, doubling the delay and adding jitter on each call.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func NewBackoff() *Backoff {
	return &Backoff{base: 5 * time.Second, max: 300 * time.Second}
}

// Next returns the delay to sleep before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.base
	} else {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	jitter := time.Duration(rand.Int63n(int64(b.current/4 + 1)))
	return b.current + jitter
}

func (b *Backoff) Reset() {
	b.current = 0
}
