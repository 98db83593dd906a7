package relay

import (
	"math/rand"
	"time"
)

// backoff produces exponentially growing delays with jitter. Each call
// to next doubles the base delay up to the cap and returns a value in
// [delay/2, delay), so synchronized retries from many relays spread
// out. Not safe for concurrent use; each relay owns one.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max}
}

func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.base
	} else {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	half := b.current / 2
	//nolint:gosec // The random delay is for jitter, not security.
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (b *backoff) reset() {
	b.current = 0
}
