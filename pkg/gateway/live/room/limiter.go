package room

import "time"

// bucket is one token bucket refilled at rate tokens per second up to max.
type bucket struct {
	rate   int64
	max    int64
	tokens int64
	last   time.Time
}

func newBucket(rate int64, burstSeconds int64, now time.Time) *bucket {
	if rate <= 0 {
		return nil
	}
	return &bucket{rate: rate, max: rate * burstSeconds, tokens: rate * burstSeconds, last: now}
}

func (b *bucket) refill(now time.Time) {
	if b == nil {
		return
	}
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	add := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
	if add <= 0 {
		return
	}
	b.tokens += add
	if b.tokens >= b.max {
		b.tokens = b.max
		b.last = now
		return
	}
	// Advance only by the time the added tokens account for, so sub-token
	// remainders carry over to the next refill.
	b.last = b.last.Add(time.Duration(add * int64(time.Second) / b.rate))
}

func (b *bucket) has(n int64) bool {
	return b == nil || b.tokens >= n
}

func (b *bucket) take(n int64) {
	if b != nil {
		b.tokens -= n
	}
}

// relayLimiter charges inbound relay messages against a message-rate bucket
// and a byte-rate bucket. A nil limiter allows everything.
type relayLimiter struct {
	now      func() time.Time
	messages *bucket
	bytes    *bucket
}

func newRelayLimiter(now func() time.Time, mps int, bps int64, burstSeconds int) *relayLimiter {
	if mps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	start := now()
	return &relayLimiter{
		now:      now,
		messages: newBucket(int64(mps), int64(burstSeconds), start),
		bytes:    newBucket(bps, int64(burstSeconds), start),
	}
}

// Allow reports whether a message of size bytes fits the budget and, if so,
// charges it. A denied message costs nothing.
func (l *relayLimiter) Allow(size int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.messages.refill(now)
	l.bytes.refill(now)

	if size < 0 {
		size = 0
	}
	if !l.messages.has(1) || !l.bytes.has(int64(size)) {
		return false
	}
	l.messages.take(1)
	l.bytes.take(int64(size))
	return true
}
