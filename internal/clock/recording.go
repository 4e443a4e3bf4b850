// internal/clock/recording.go
package clock

import (
	"context"
	"sync"
	"time"
)

// Recording is a Sleeper that never blocks. It remembers every requested wait, which lets
// callers assert on cadence without spending wall-clock time. FailAfter, when positive,
// makes the call with that 1-based index (and every later one) return Err.
type Recording struct {
	mu        sync.Mutex
	waits     []time.Duration
	FailAfter int
	Err       error
	// OnSleep, if set, runs after the wait is recorded.
	OnSleep func(n int, d time.Duration)
}

// Sleep records d and returns immediately.
func (r *Recording) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	n := len(r.waits)
	hook := r.OnSleep
	r.mu.Unlock()

	if hook != nil {
		hook(n, d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.FailAfter > 0 && n >= r.FailAfter {
		if r.Err != nil {
			return r.Err
		}
		return context.Canceled
	}
	return nil
}

// Waits returns a copy of every recorded wait, in order.
func (r *Recording) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.waits))
	copy(out, r.waits)
	return out
}

// Total returns the sum of every recorded wait.
func (r *Recording) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Waits() {
		total += d
	}
	return total
}
