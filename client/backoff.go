package client

import (
	"math/rand"
	"time"
)

// backoff doubles the reconnect delay up to max, with +-10% jitter.
type backoff struct {
	min time.Duration
	max time.Duration
	cur time.Duration
}

func (b *backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.min
	} else {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}

	spread := int64(b.cur / 5)
	if spread <= 0 {
		return b.cur
	}

	return b.cur - b.cur/10 + time.Duration(rand.Int63n(spread))
}

func (b *backoff) Reset() {
	b.cur = 0
}
