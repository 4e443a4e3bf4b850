// Package scheduler runs engagement sessions back to back with a randomized cool-down
// between them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/clock"
	"github.com/xkilldash9x/cadence-cli/internal/config"
	"github.com/xkilldash9x/cadence-cli/internal/engage"
	"github.com/xkilldash9x/cadence-cli/internal/journal"
	"github.com/xkilldash9x/cadence-cli/internal/navigator"
	"github.com/xkilldash9x/cadence-cli/internal/store"
)

// ErrSessionPanic wraps a panic recovered outside the engagement loop.
var ErrSessionPanic = errors.New("session panicked")

// ErrNilDriver is reported when a factory returns neither a driver nor an error.
var ErrNilDriver = errors.New("factory returned no driver")

// Report summarizes one session.
type Report struct {
	SessionID     string
	Tag           string
	Variant       engage.Variant
	Authenticated bool
	AuthErr       error
	Entry         navigator.FeedEntryPoint
	Loop          engage.Result
	StartedAt     time.Time
	FinishedAt    time.Time
	// Err is set when the session could not run to the end: the driver could not be
	// acquired or something panicked outside the loop.
	Err error
	// ReleaseErr is set when closing the driver failed.
	ReleaseErr error
}

// Record converts the report for the history store.
func (r Report) Record() store.SessionRecord {
	rec := store.SessionRecord{
		ID:             r.SessionID,
		Tag:            r.Tag,
		Variant:        string(r.Variant),
		Authenticated:  r.Authenticated,
		Reason:         string(r.Loop.Reason),
		Budget:         r.Loop.Initial,
		Applied:        r.Loop.Applied,
		AlreadyApplied: r.Loop.AlreadyApplied,
		Unavailable:    r.Loop.Unavailable,
		Posts:          r.Loop.Posts,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
	switch {
	case r.Err != nil:
		rec.Error = r.Err.Error()
	case r.Loop.Err != nil:
		rec.Error = r.Loop.Err.Error()
	}
	return rec
}

// Scheduler owns the driver for each session and the pacing between sessions.
type Scheduler struct {
	factory  browser.Factory
	cfg      *config.Config
	clock    *clock.Clock
	journal  journal.Sink
	recorder store.Recorder
	logger   *zap.Logger
	throttle *rate.Limiter
	hooks    []func(Report)
	now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithThrottle replaces the limiter derived from engagement.max_actions_per_hour.
func WithThrottle(limiter *rate.Limiter) Option {
	return func(s *Scheduler) { s.throttle = limiter }
}

// OnReport registers a function called after every session.
func OnReport(fn func(Report)) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, fn) }
}

// New creates a scheduler. A nil recorder disables history.
func New(factory browser.Factory, cfg *config.Config, clk *clock.Clock, sink journal.Sink, recorder store.Recorder, logger *zap.Logger, opts ...Option) *Scheduler {
	if sink == nil {
		sink = journal.Nop{}
	}
	if recorder == nil {
		recorder = store.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		factory:  factory,
		cfg:      cfg,
		clock:    clk,
		journal:  sink,
		recorder: recorder,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
	}
	if n := cfg.Engagement.MaxActionsPerHour; n > 0 {
		s.throttle = rate.NewLimiter(rate.Every(time.Hour/time.Duration(n)), 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes sessions until ctx is cancelled or schedule.max_sessions is reached.
// A session that cannot acquire a driver is logged and retried after the next cool-down.
func (s *Scheduler) Run(ctx context.Context) error {
	maxSessions := s.cfg.Schedule.MaxSessions
	s.logger.Info("Scheduler started.", zap.Int("max_sessions", maxSessions))

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			s.logger.Info("Scheduler stopped.", zap.Int("sessions", n-1))
			return nil
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Session could not start.", zap.Int("session", n), zap.Error(err))
		}

		if maxSessions > 0 && n >= maxSessions {
			s.logger.Info("Session limit reached.", zap.Int("sessions", n))
			return nil
		}

		wait := s.CoolDown()
		s.journal.Append(journal.Waiting(wait))
		s.logger.Info("Cooling down.", zap.Duration("wait", wait))
		if err := s.clock.Sleep(ctx, wait); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Scheduler stopped during cool-down.", zap.Int("sessions", n))
				return nil
			}
			return fmt.Errorf("cool-down: %w", err)
		}
	}
}

// CoolDown draws the wait before the next session.
func (s *Scheduler) CoolDown() time.Duration {
	return s.clock.DrawNested(s.cfg.Schedule.CoolDown)
}

// RunOnce runs one session and publishes its report. The returned error is non-nil only
// when no driver could be acquired.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	rep, err := s.session(ctx)
	s.publish(ctx, rep)
	return rep, err
}

func (s *Scheduler) session(ctx context.Context) (rep Report, err error) {
	rep = Report{SessionID: uuid.NewString(), StartedAt: s.now()}
	log := s.logger.With(zap.String("session_id", rep.SessionID))

	driver, err := s.factory.Acquire(ctx)
	if err == nil && driver == nil {
		err = ErrNilDriver
	}
	if err != nil {
		rep.Err = fmt.Errorf("acquire driver: %w", err)
		rep.FinishedAt = s.now()
		s.journal.Append(journal.BrowserFailed(err))
		return rep, rep.Err
	}
	log.Info("Session started.")

	defer func() {
		rep.ReleaseErr = s.release(ctx, driver, log)
		rep.FinishedAt = s.now()
		log.Info("Session finished.",
			zap.String("tag", rep.Tag),
			zap.String("variant", string(rep.Variant)),
			zap.Bool("authenticated", rep.Authenticated),
			zap.String("reason", string(rep.Loop.Reason)),
			zap.Int("applied", rep.Loop.Applied),
			zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
		)
	}()
	defer func() {
		if p := recover(); p != nil {
			rep.Err = fmt.Errorf("%w: %v", ErrSessionPanic, p)
			log.Error("Recovered from panic in session.", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	nav := navigator.New(driver, s.cfg.Navigator, s.cfg.Account, s.clock, s.journal, log)
	auth := nav.Authenticate(ctx)
	rep.Authenticated, rep.AuthErr = auth.Authenticated, auth.Err

	rep.Tag = nav.PickTag()
	rep.Entry = nav.DiscoverByTag(ctx, rep.Tag)

	var opts []engage.Option
	if s.throttle != nil {
		opts = append(opts, engage.WithThrottle(s.throttle))
	}
	loop := engage.NewLoop(driver, s.cfg.Engagement, s.clock, s.journal, log, opts...)
	rep.Variant = loop.ChooseVariant()
	rep.Loop = loop.Run(ctx, rep.Variant, loop.DrawBudget())
	return rep, nil
}

// release closes the driver with a context detached from ctx, so a shutdown signal still
// lets the browser exit cleanly.
func (s *Scheduler) release(ctx context.Context, driver browser.Driver, log *zap.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: release: %v", ErrSessionPanic, p)
			log.Error("Recovered from panic while releasing driver.", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Schedule.ReleaseTimeout)
	defer cancel()
	if err := driver.Close(releaseCtx); err != nil {
		log.Warn("Failed to release driver.", zap.Error(err))
		return err
	}
	return nil
}

func (s *Scheduler) publish(ctx context.Context, rep Report) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Schedule.ReleaseTimeout)
	defer cancel()
	if err := s.recorder.RecordSession(recordCtx, rep.Record()); err != nil {
		s.logger.Warn("Failed to record session.", zap.String("session_id", rep.SessionID), zap.Error(err))
	}
	for _, hook := range s.hooks {
		hook(rep)
	}
}
