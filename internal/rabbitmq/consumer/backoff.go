package consumer

import "time"

// backoff hands out doubling delays between base and max. It is used from
// the Listen goroutine only.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func (b *backoff) next() time.Duration {
	if b.base <= 0 {
		return 0
	}
	if b.current == 0 {
		b.current = b.base
		return b.current
	}
	b.current = min(b.current*2, max(b.max, b.base))
	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}
