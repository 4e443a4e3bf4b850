// internal/clock/clock.go
package clock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Range is an inclusive uniform duration range.
type Range struct {
	Min time.Duration `mapstructure:"min" yaml:"min"`
	Max time.Duration `mapstructure:"max" yaml:"max"`
}

// Validate checks that the range is non-negative and not inverted.
func (r Range) Validate() error {
	if r.Min < 0 {
		return fmt.Errorf("min must not be negative (got %s)", r.Min)
	}
	if r.Max < r.Min {
		return fmt.Errorf("max (%s) must not be less than min (%s)", r.Max, r.Min)
	}
	return nil
}

// Nested describes a two-level draw: a lower bound is drawn from Lower, an upper bound from
// Upper, and the final value is uniform between the two. The result is skewed toward the
// middle of the combined span rather than flat across it.
type Nested struct {
	Lower Range `mapstructure:"lower" yaml:"lower"`
	Upper Range `mapstructure:"upper" yaml:"upper"`
}

// Validate checks both inner ranges.
func (n Nested) Validate() error {
	if err := n.Lower.Validate(); err != nil {
		return fmt.Errorf("lower: %w", err)
	}
	if err := n.Upper.Validate(); err != nil {
		return fmt.Errorf("upper: %w", err)
	}
	return nil
}

// Bounds returns the smallest and largest value a draw can produce.
func (n Nested) Bounds() (time.Duration, time.Duration) {
	return min(n.Lower.Min, n.Upper.Min), max(n.Lower.Max, n.Upper.Max)
}

// IntRange is an inclusive uniform integer range.
type IntRange struct {
	Min int `mapstructure:"min" yaml:"min"`
	Max int `mapstructure:"max" yaml:"max"`
}

// Validate checks that the range is not inverted.
func (r IntRange) Validate() error {
	if r.Max < r.Min {
		return fmt.Errorf("max (%d) must not be less than min (%d)", r.Max, r.Min)
	}
	return nil
}

// Sleeper suspends the caller for a duration. Implementations must return early with
// ctx.Err() when the context is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// WallSleeper waits on a real timer.
type WallSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (WallSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Clock supplies every randomized value and every wait in a session. It is safe for
// concurrent use, although the scheduler only ever drives it from one goroutine.
type Clock struct {
	mu      sync.Mutex
	rng     *rand.Rand
	sleeper Sleeper
}

// Option configures a Clock.
type Option func(*Clock)

// WithSeed makes the random sequence deterministic. A zero seed keeps the time-based seed.
func WithSeed(seed uint64) Option {
	return func(c *Clock) {
		if seed != 0 {
			c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		}
	}
}

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Clock) {
		if s != nil {
			c.sleeper = s
		}
	}
}

// New creates a Clock seeded from the current time.
func New(opts ...Option) *Clock {
	now := uint64(time.Now().UnixNano())
	c := &Clock{
		rng:     rand.New(rand.NewPCG(now, now>>17)),
		sleeper: WallSleeper{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Draw returns a uniform duration in [r.Min, r.Max].
func (c *Clock) Draw(r Range) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drawLocked(r.Min, r.Max)
}

// DrawNested draws the outer bounds first and then a value between them. If the drawn
// lower bound ends up above the drawn upper bound the two are swapped.
func (c *Clock) DrawNested(n Nested) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	lo := c.drawLocked(n.Lower.Min, n.Lower.Max)
	hi := c.drawLocked(n.Upper.Min, n.Upper.Max)
	if lo > hi {
		lo, hi = hi, lo
	}
	return c.drawLocked(lo, hi)
}

func (c *Clock) drawLocked(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(c.rng.Int64N(int64(hi-lo)+1))
}

// IntN returns a uniform integer in [r.Min, r.Max].
func (c *Clock) IntN(r IntRange) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + c.rng.IntN(r.Max-r.Min+1)
}

// Coin returns true or false with equal probability.
func (c *Clock) Coin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.IntN(2) == 0
}

// Pick returns a uniform index in [0, n). It panics if n <= 0.
func (c *Clock) Pick(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.IntN(n)
}

// Sleep waits for a fixed duration.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	return c.sleeper.Sleep(ctx, d)
}

// SleepRange draws from r, waits, and reports the drawn duration.
func (c *Clock) SleepRange(ctx context.Context, r Range) (time.Duration, error) {
	d := c.Draw(r)
	return d, c.sleeper.Sleep(ctx, d)
}

// SleepNested draws from n, waits, and reports the drawn duration.
func (c *Clock) SleepNested(ctx context.Context, n Nested) (time.Duration, error) {
	d := c.DrawNested(n)
	return d, c.sleeper.Sleep(ctx, d)
}
