package demand

import "sync/atomic"

// Toilet is the shared counter described by the spec for push-mode
// input pads: one producer adds, one consumer subtracts. Add is a plain
// atomic add; Drain uses a compare-and-swap loop so that the level is
// clamped at zero.
type Toilet struct {
	level     int64
	threshold int
}

// NewToilet creates a Toilet with the given overflow threshold. A
// threshold of 0 falls back to pad.DefaultToiletThreshold.
func NewToilet(threshold int) *Toilet {
	if threshold <= 0 {
		threshold = 200
	}
	return &Toilet{threshold: threshold}
}

// Add increases the toilet level by n and returns the new level. Called
// by the single producer feeding this toilet.
func (t *Toilet) Add(n int) int64 {
	return atomic.AddInt64(&t.level, int64(n))
}

// Drain decreases the toilet level by n, the consumer reporting how
// much it just processed. The level never goes negative: a consumer
// draining more than was added is a programmer error that would
// otherwise mask real backpressure, so it is clamped rather than
// allowed to go negative.
func (t *Toilet) Drain(n int64) int64 {
	for {
		cur := atomic.LoadInt64(&t.level)
		next := cur - n
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(&t.level, cur, next) {
			return next
		}
	}
}

// Level returns the current toilet level.
func (t *Toilet) Level() int64 {
	return atomic.LoadInt64(&t.level)
}

// Overflowed reports whether the toilet is currently above threshold.
func (t *Toilet) Overflowed() bool {
	return atomic.LoadInt64(&t.level) > int64(t.threshold)
}
