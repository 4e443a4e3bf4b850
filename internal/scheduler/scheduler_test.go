package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/clock"
	"github.com/xkilldash9x/cadence-cli/internal/config"
	"github.com/xkilldash9x/cadence-cli/internal/engage"
	"github.com/xkilldash9x/cadence-cli/internal/journal"
	"github.com/xkilldash9x/cadence-cli/internal/mocks"
	"github.com/xkilldash9x/cadence-cli/internal/navigator"
	"github.com/xkilldash9x/cadence-cli/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Account = config.AccountConfig{Username: "cadence.bot", Password: "hunter2"}
	cfg.Navigator.Tags = []string{"gopher"}
	cfg.Engagement.Budget.Min, cfg.Engagement.Budget.Max = 3, 3
	return cfg
}

func referencePosts() []mocks.Post {
	return []mocks.Post{{Controls: 2}, {Controls: 2}, {Controls: 2}, {Controls: 2}, {Controls: 1}}
}

// feedFactory hands out a fresh scripted feed per session.
type feedFactory struct {
	mu    sync.Mutex
	cfg   config.EngagementConfig
	feeds []*mocks.Feed
	fail  func(n int) error
	calls int
}

func (f *feedFactory) Acquire(ctx context.Context) (browser.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		if err := f.fail(f.calls); err != nil {
			return nil, err
		}
	}
	feed := mocks.NewFeed(f.cfg, referencePosts()...)
	f.feeds = append(f.feeds, feed)
	return feed, nil
}

type harness struct {
	cfg     *config.Config
	factory *feedFactory
	sleeper *clock.Recording
	journal *journal.Recorder
	logs    *observer.ObservedLogs
}

func newHarness() *harness {
	cfg := testConfig()
	return &harness{
		cfg:     cfg,
		factory: &feedFactory{cfg: cfg.Engagement},
		sleeper: &clock.Recording{},
		journal: journal.NewRecorder(0),
	}
}

func (h *harness) scheduler(factory browser.Factory, recorder store.Recorder, opts ...Option) *Scheduler {
	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs
	clk := clock.New(clock.WithSeed(21), clock.WithSleeper(h.sleeper))
	return New(factory, h.cfg, clk, h.journal, recorder, zap.New(core), opts...)
}

func TestRunOnceCompletesASession(t *testing.T) {
	h := newHarness()
	recorder := new(mocks.MockRecorder)
	recorder.On("RecordSession", mock.Anything, mock.MatchedBy(func(rec store.SessionRecord) bool {
		return rec.Reason == "budget-exhausted" && rec.Applied == 3 && rec.Tag == "gopher" && rec.Authenticated
	})).Return(nil).Once()

	var reports []Report
	s := h.scheduler(h.factory, recorder, OnReport(func(r Report) { reports = append(reports, r) }))

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, rep.SessionID)
	assert.True(t, rep.Authenticated)
	assert.Equal(t, "gopher", rep.Tag)
	assert.True(t, rep.Entry.Loaded)
	assert.Equal(t, engage.BudgetExhausted, rep.Loop.Reason)
	assert.Equal(t, 3, rep.Loop.Applied)
	assert.NoError(t, rep.Err)
	assert.NoError(t, rep.ReleaseErr)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))

	require.Len(t, h.factory.feeds, 1)
	feed := h.factory.feeds[0]
	assert.Equal(t, 1, feed.Closes(), "driver is released exactly once")
	assert.Equal(t, []string{"cadence.bot", "hunter2"}, feed.Typed)
	assert.Equal(t, []string{h.cfg.Navigator.LoginURL, h.cfg.Navigator.TagURL + "gopher"}, feed.Navigations)

	lines := h.journal.Lines()
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, []string{journal.OpenedLogin, journal.LoggedIn, "Searched posts tagged #gopher."}, lines[:3])
	assert.Equal(t, "Opened the first "+string(rep.Variant)+" post.", lines[3])
	assert.Equal(t, journal.BudgetUsed, lines[len(lines)-1])

	require.Len(t, reports, 1)
	assert.Equal(t, rep.SessionID, reports[0].SessionID)
	recorder.AssertExpectations(t)
}

func TestRunOnceAcquireFailure(t *testing.T) {
	h := newHarness()
	boom := errors.New("chrome not found")
	factory := new(mocks.MockFactory)
	factory.On("Acquire", mock.Anything).Return(nil, boom).Once()

	s := h.scheduler(factory, nil)
	rep, err := s.RunOnce(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, rep.Err, boom)
	assert.Equal(t, []string{"Could not start the browser: chrome not found."}, h.journal.Lines())
	assert.Equal(t, "acquire driver: chrome not found", rep.Record().Error)
	factory.AssertExpectations(t)
}

func TestRunOnceReleasesAfterPanic(t *testing.T) {
	h := newHarness()
	driver := new(mocks.MockDriver)
	driver.On("Navigate", mock.Anything, mock.Anything).Panic("renderer crashed")
	driver.On("Close", mock.Anything).Return(nil).Once()

	s := h.scheduler(browser.FactoryFunc(func(context.Context) (browser.Driver, error) { return driver, nil }), nil)

	var (
		rep Report
		err error
	)
	require.NotPanics(t, func() { rep, err = s.RunOnce(context.Background()) })

	assert.NoError(t, err, "only acquisition failures are returned")
	assert.ErrorIs(t, rep.Err, ErrSessionPanic)
	driver.AssertExpectations(t)
	assert.Equal(t, 1, h.logs.FilterMessage("Recovered from panic in session.").Len())
}

func TestRunOnceReleaseFailureIsReported(t *testing.T) {
	h := newHarness()
	h.cfg.Account = config.AccountConfig{}
	driver := new(mocks.MockDriver)
	driver.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	driver.On("FindAll", mock.Anything, mock.Anything).Return(mocks.Elements(), nil)
	closeErr := errors.New("browser already gone")
	driver.On("Close", mock.Anything).Return(closeErr).Once()

	s := h.scheduler(browser.FactoryFunc(func(context.Context) (browser.Driver, error) { return driver, nil }), nil)
	rep, err := s.RunOnce(context.Background())

	require.NoError(t, err)
	assert.False(t, rep.Authenticated)
	assert.ErrorIs(t, rep.AuthErr, navigator.ErrNoCredentials)
	assert.Equal(t, engage.Faulted, rep.Loop.Reason, "an empty listing stops the loop")
	assert.ErrorIs(t, rep.ReleaseErr, closeErr)
	assert.Equal(t, 1, h.logs.FilterMessage("Failed to release driver.").Len())
}

// panickyClose is a feed whose browser blows up on shutdown.
type panickyClose struct {
	*mocks.Feed
}

func (panickyClose) Close(context.Context) error { panic("websocket already closed") }

func TestRunOnceRecoversPanicDuringRelease(t *testing.T) {
	h := newHarness()
	h.cfg.Schedule.MaxSessions = 2
	acquired := 0
	factory := browser.FactoryFunc(func(context.Context) (browser.Driver, error) {
		acquired++
		return panickyClose{mocks.NewFeed(h.cfg.Engagement, referencePosts()...)}, nil
	})
	var reports []Report
	s := h.scheduler(factory, nil, OnReport(func(r Report) { reports = append(reports, r) }))

	require.NotPanics(t, func() { require.NoError(t, s.Run(context.Background())) })

	assert.Equal(t, 2, acquired, "the next session still starts")
	require.Len(t, reports, 2)
	for _, rep := range reports {
		assert.ErrorIs(t, rep.ReleaseErr, ErrSessionPanic)
		assert.Contains(t, rep.ReleaseErr.Error(), "websocket already closed")
		assert.Equal(t, engage.BudgetExhausted, rep.Loop.Reason)
		assert.False(t, rep.FinishedAt.IsZero())
	}
	assert.Equal(t, 2, h.logs.FilterMessage("Recovered from panic while releasing driver.").Len())
}

func TestRunOnceNilDriverIsAnAcquireError(t *testing.T) {
	h := newHarness()
	s := h.scheduler(browser.FactoryFunc(func(context.Context) (browser.Driver, error) { return nil, nil }), nil)

	var (
		rep Report
		err error
	)
	require.NotPanics(t, func() { rep, err = s.RunOnce(context.Background()) })
	require.ErrorIs(t, err, ErrNilDriver)
	assert.ErrorIs(t, rep.Err, ErrNilDriver)
	assert.Contains(t, h.journal.Lines(), journal.BrowserFailed(ErrNilDriver))
}

func TestRunOnceReleaseUsesDetachedContext(t *testing.T) {
	h := newHarness()
	driver := new(mocks.MockDriver)
	driver.On("Navigate", mock.Anything, mock.Anything).Return(context.Canceled)
	driver.On("FindAll", mock.Anything, mock.Anything).Return(nil, context.Canceled)
	driver.On("Close", mock.MatchedBy(func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return ctx.Err() == nil && hasDeadline
	})).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := h.scheduler(browser.FactoryFunc(func(context.Context) (browser.Driver, error) { return driver, nil }), nil)
	rep, err := s.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, engage.Faulted, rep.Loop.Reason)
	driver.AssertExpectations(t)
}

func TestRunHonoursSessionLimit(t *testing.T) {
	h := newHarness()
	h.cfg.Schedule.MaxSessions = 3
	recorder := new(mocks.MockRecorder)
	recorder.On("RecordSession", mock.Anything, mock.Anything).Return(nil)

	s := h.scheduler(h.factory, recorder)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 3, h.factory.calls)
	for _, feed := range h.factory.feeds {
		assert.Equal(t, 1, feed.Closes())
	}
	recorder.AssertNumberOfCalls(t, "RecordSession", 3)

	var waits []string
	for _, line := range h.journal.Lines() {
		if strings.HasPrefix(line, "Waiting ") {
			waits = append(waits, line)
		}
	}
	assert.Len(t, waits, 2, "no cool-down after the last session")

	lo, hi := h.cfg.Schedule.CoolDown.Bounds()
	var coolDowns int
	for _, d := range h.sleeper.Waits() {
		if d >= lo {
			assert.LessOrEqual(t, d, hi)
			coolDowns++
		}
	}
	assert.Equal(t, 2, coolDowns)
}

func TestRunStopsOnCancellation(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lo, _ := h.cfg.Schedule.CoolDown.Bounds()
	h.sleeper.OnSleep = func(_ int, d time.Duration) {
		if d >= lo {
			cancel()
		}
	}

	s := h.scheduler(h.factory, nil)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, 1, h.factory.calls, "no new session starts after cancellation")
	assert.Equal(t, 1, h.factory.feeds[0].Closes())
	assert.Equal(t, 1, h.logs.FilterMessage("Scheduler stopped during cool-down.").Len())
}

func TestRunRetriesAfterAcquireFailure(t *testing.T) {
	h := newHarness()
	h.cfg.Schedule.MaxSessions = 2
	h.factory.fail = func(n int) error {
		if n == 1 {
			return errors.New("out of memory")
		}
		return nil
	}

	s := h.scheduler(h.factory, nil)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 2, h.factory.calls)
	require.Len(t, h.factory.feeds, 1)
	assert.Equal(t, 1, h.factory.feeds[0].Closes())
	assert.Equal(t, 1, h.logs.FilterMessage("Session could not start.").Len())
	assert.Contains(t, h.journal.Lines(), "Could not start the browser: out of memory.")
}

func TestRecordFailureDoesNotStopSession(t *testing.T) {
	h := newHarness()
	recorder := new(mocks.MockRecorder)
	recorder.On("RecordSession", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	s := h.scheduler(h.factory, recorder)
	_, err := s.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, h.logs.FilterMessage("Failed to record session.").Len())
}

func TestCoolDownIsStrictlyPositive(t *testing.T) {
	h := newHarness()
	s := h.scheduler(h.factory, nil)
	lo, hi := h.cfg.Schedule.CoolDown.Bounds()
	for i := 0; i < 1000; i++ {
		d := s.CoolDown()
		require.Greater(t, d, time.Duration(0))
		require.GreaterOrEqual(t, d, lo)
		require.LessOrEqual(t, d, hi)
	}
}

func TestThrottleFromConfig(t *testing.T) {
	h := newHarness()
	h.cfg.Engagement.MaxActionsPerHour = 60
	s := h.scheduler(h.factory, nil)
	require.NotNil(t, s.throttle)
	assert.InDelta(t, 1.0/60, float64(s.throttle.Limit()), 1e-9)
	assert.Equal(t, 1, s.throttle.Burst())
}
