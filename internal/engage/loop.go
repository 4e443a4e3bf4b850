// Package engage walks a feed and applies the engagement action under a per-session budget.
package engage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/clock"
	"github.com/xkilldash9x/cadence-cli/internal/config"
	"github.com/xkilldash9x/cadence-cli/internal/journal"
)

var (
	// ErrNoFirstPost is returned when the chosen listing has no post to open.
	ErrNoFirstPost = errors.New("no first post to open")
	// ErrPanic wraps a panic recovered inside the loop.
	ErrPanic = errors.New("engagement loop panicked")
)

// Loop is the engagement state machine for one driver session.
type Loop struct {
	driver   browser.Driver
	cfg      config.EngagementConfig
	clock    *clock.Clock
	journal  journal.Sink
	logger   *zap.Logger
	throttle *rate.Limiter
}

// Option configures a Loop.
type Option func(*Loop)

// WithThrottle makes every apply wait on limiter first. The limiter can be shared across
// sessions.
func WithThrottle(limiter *rate.Limiter) Option {
	return func(l *Loop) { l.throttle = limiter }
}

// NewLoop creates a loop bound to a driver session.
func NewLoop(driver browser.Driver, cfg config.EngagementConfig, clk *clock.Clock, sink journal.Sink, logger *zap.Logger, opts ...Option) *Loop {
	if sink == nil {
		sink = journal.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		driver:  driver,
		cfg:     cfg,
		clock:   clk,
		journal: sink,
		logger:  logger.Named("engage"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ChooseVariant flips a coin between the trending and recent listings.
func (l *Loop) ChooseVariant() Variant {
	if l.clock.Coin() {
		return Trending
	}
	return Recent
}

// DrawBudget draws a fresh session budget from the configured range.
func (l *Loop) DrawBudget() *Budget {
	return NewBudget(l.clock.IntN(l.cfg.Budget))
}

// run holds the mutable state of one walk.
type run struct {
	variant Variant
	budget  *Budget
	cursor  Cursor
	res     *Result
}

func (r *run) step(kind StepKind) {
	r.res.Steps = append(r.res.Steps, Step{Post: r.cursor.Post, Kind: kind})
}

// Run walks the feed until it terminates. It never returns an error: faults end the walk
// with Reason Faulted and are carried in Result.Err.
func (l *Loop) Run(ctx context.Context, variant Variant, budget *Budget) (res Result) {
	res = Result{Variant: variant, Initial: budget.Initial()}
	r := &run{variant: variant, budget: budget, cursor: Cursor{FirstAttempt: true}, res: &res}
	log := l.logger.With(zap.String("variant", string(variant)), zap.Int("budget", budget.Initial()))

	defer func() {
		if p := recover(); p != nil {
			l.fail(r, fmt.Errorf("%w: %v", ErrPanic, p))
			log.Error("Recovered from panic in engagement loop.", zap.Any("panic", p), zap.Stack("stack"))
		}
		res.Remaining = budget.Remaining()
		res.Posts = r.cursor.Post
		res.Cursor = r.cursor
		log.Info("Engagement loop terminated.",
			zap.String("reason", string(res.Reason)),
			zap.Int("applied", res.Applied),
			zap.Int("remaining", res.Remaining),
			zap.Int("posts", res.Posts),
			zap.Error(res.Err),
		)
	}()

	state := EnteringFeed
	for state != Terminated {
		var (
			next State
			err  error
		)
		switch state {
		case EnteringFeed:
			next, err = l.enter(ctx, r)
		case Engaging:
			next, err = l.engage(ctx, r)
		case Paginating:
			next, err = l.paginate(ctx, r)
		}
		if err != nil {
			l.fail(r, err)
			log.Warn("Engagement loop stopped by a fault.", zap.Stringer("state", state), zap.Int("post", r.cursor.Post), zap.Error(err))
			return res
		}
		log.Debug("Transition.", zap.Stringer("from", state), zap.Stringer("to", next), zap.Int("post", r.cursor.Post))
		state = next
	}
	return res
}

func (l *Loop) fail(r *run, err error) {
	r.res.Reason = Faulted
	r.res.Err = err
	r.step(StepEnd)
	l.journal.Append(journal.Stopped(err))
}

func (l *Loop) terminate(r *run, reason Reason) State {
	r.res.Reason = reason
	r.step(StepEnd)
	switch reason {
	case BudgetExhausted:
		l.journal.Append(journal.BudgetUsed)
	case FeedExhausted:
		l.journal.Append(journal.FeedEnded)
	}
	return Terminated
}

func (l *Loop) firstPostSelector(v Variant) string {
	if v == Recent {
		return l.cfg.FirstPost.Recent
	}
	return l.cfg.FirstPost.Trending
}

// enter opens the first post of the chosen listing.
func (l *Loop) enter(ctx context.Context, r *run) (State, error) {
	posts, err := l.driver.FindAll(ctx, l.firstPostSelector(r.variant))
	if err != nil {
		return Terminated, err
	}
	if len(posts) == 0 {
		return Terminated, browser.NewFault(browser.FaultTransientUI, "open first post", ErrNoFirstPost)
	}
	if err := posts[0].Click(ctx); err != nil {
		return Terminated, err
	}

	r.cursor.Post = 1
	r.step(StepEnter)
	l.journal.Append(journal.OpenedFirst(string(r.variant)))

	if _, err := l.clock.SleepRange(ctx, l.cfg.EntrySettle); err != nil {
		return Terminated, err
	}
	return Engaging, nil
}

// engage applies the action on the open post when it is not applied yet.
func (l *Loop) engage(ctx context.Context, r *run) (State, error) {
	if r.budget.Exhausted() {
		return l.terminate(r, BudgetExhausted), nil
	}

	outcome, err := l.attempt(ctx)
	if err != nil {
		return Terminated, err
	}

	switch outcome {
	case Applied:
		r.budget.Spend()
		r.res.Applied++
		r.step(StepApply)
		l.journal.Append(journal.Liked)
		if err := l.clock.Sleep(ctx, l.cfg.ActionPause); err != nil {
			return Terminated, err
		}
		if r.budget.Exhausted() {
			return l.terminate(r, BudgetExhausted), nil
		}
	case AlreadyApplied:
		r.res.AlreadyApplied++
		r.step(StepSkip)
		l.journal.Append(journal.AlreadyLiked)
	case Unavailable:
		r.res.Unavailable++
		r.step(StepMiss)
		l.journal.Append(journal.ControlMissed)
	}
	return Paginating, nil
}

// attempt reads the control state and clicks the control only when it is not applied.
func (l *Loop) attempt(ctx context.Context) (Outcome, error) {
	controls, err := l.driver.FindAll(ctx, l.cfg.ControlSelector)
	if err != nil {
		return "", err
	}
	if len(controls) == 0 {
		return Unavailable, nil
	}

	states, err := l.driver.FindAll(ctx, l.cfg.StateSelector)
	if err != nil {
		return "", err
	}
	if len(states) == 0 {
		return Unavailable, nil
	}
	value, err := states[0].Attribute(ctx, l.cfg.StateAttribute)
	if err != nil {
		return "", err
	}
	if value != l.cfg.UnappliedValue {
		return AlreadyApplied, nil
	}

	if l.throttle != nil {
		if err := l.throttle.Wait(ctx); err != nil {
			return "", fmt.Errorf("action throttle: %w", err)
		}
	}
	if err := controls[0].Click(ctx); err != nil {
		return "", err
	}
	return Applied, nil
}

// paginate moves to the next post or decides the feed is over.
func (l *Loop) paginate(ctx context.Context, r *run) (State, error) {
	controls, err := l.driver.FindAll(ctx, l.cfg.PaginationSelector)
	if err != nil {
		return Terminated, err
	}
	r.cursor.observe(len(controls))

	if len(controls) == 0 {
		return l.terminate(r, FeedExhausted), nil
	}
	if len(controls) == 1 && !r.cursor.FirstAttempt {
		return l.terminate(r, FeedExhausted), nil
	}

	// With both directions shown the feed renders "next" last.
	if err := controls[len(controls)-1].Click(ctx); err != nil {
		return Terminated, err
	}
	r.step(StepAdvance)
	r.cursor.FirstAttempt = false
	r.cursor.Post++
	l.journal.Append(journal.MovedNext)

	if _, err := l.clock.SleepNested(ctx, l.cfg.AdvanceBackoff); err != nil {
		return Terminated, err
	}
	return Engaging, nil
}
