package navigator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/clock"
	"github.com/xkilldash9x/cadence-cli/internal/config"
	"github.com/xkilldash9x/cadence-cli/internal/journal"
	"github.com/xkilldash9x/cadence-cli/internal/mocks"
)

type fixture struct {
	driver  *mocks.MockDriver
	sleeper *clock.Recording
	journal *journal.Recorder
	cfg     config.NavigatorConfig
	account config.AccountConfig
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	_, logs := observer.New(zapcore.DebugLevel)
	return &fixture{
		driver:  new(mocks.MockDriver),
		sleeper: &clock.Recording{},
		journal: journal.NewRecorder(0),
		cfg:     cfg.Navigator,
		account: config.AccountConfig{Username: "cadence.bot", Password: "hunter2"},
		logs:    logs,
	}
}

func (f *fixture) navigator() *Navigator {
	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	clk := clock.New(clock.WithSeed(1), clock.WithSleeper(f.sleeper))
	return New(f.driver, f.cfg, f.account, clk, f.journal, zap.New(core))
}

func TestAuthenticate(t *testing.T) {
	t.Run("submits credentials with the reference pauses", func(t *testing.T) {
		f := newFixture(t)
		user, pass, submit := new(mocks.MockElement), new(mocks.MockElement), new(mocks.MockElement)

		f.driver.On("Navigate", mock.Anything, f.cfg.LoginURL).Return(nil).Once()
		f.driver.On("FindAll", mock.Anything, f.cfg.Selectors.Username).Return(mocks.Elements(user), nil)
		f.driver.On("FindAll", mock.Anything, f.cfg.Selectors.Password).Return(mocks.Elements(pass), nil)
		f.driver.On("FindAll", mock.Anything, f.cfg.Selectors.Submit).Return(mocks.Elements(submit, new(mocks.MockElement)), nil)
		user.On("SendKeys", mock.Anything, "cadence.bot").Return(nil).Once()
		pass.On("SendKeys", mock.Anything, "hunter2").Return(nil).Once()
		submit.On("Click", mock.Anything).Return(nil).Once()

		res := f.navigator().Authenticate(context.Background())

		assert.True(t, res.Authenticated)
		assert.NoError(t, res.Err)
		assert.Equal(t, []string{journal.OpenedLogin, journal.LoggedIn}, f.journal.Lines())

		waits := f.sleeper.Waits()
		require.Len(t, waits, 4)
		assert.Equal(t, []time.Duration{time.Second, time.Second, 5 * time.Second}, waits[:3])
		assert.GreaterOrEqual(t, waits[3], 2*time.Second)
		assert.LessOrEqual(t, waits[3], 5*time.Second)

		f.driver.AssertExpectations(t)
		user.AssertExpectations(t)
		pass.AssertExpectations(t)
		submit.AssertExpectations(t)
	})

	t.Run("missing credentials never touch the page", func(t *testing.T) {
		f := newFixture(t)
		f.account = config.AccountConfig{Username: "only-user"}

		res := f.navigator().Authenticate(context.Background())

		assert.False(t, res.Authenticated)
		assert.ErrorIs(t, res.Err, ErrNoCredentials)
		assert.True(t, browser.IsKind(res.Err, browser.FaultAuth))
		f.driver.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
		require.Len(t, f.journal.Lines(), 1)
		assert.Contains(t, f.journal.Lines()[0], "Login failed")
	})

	t.Run("absent login field is an auth fault", func(t *testing.T) {
		f := newFixture(t)
		f.driver.On("Navigate", mock.Anything, f.cfg.LoginURL).Return(nil)
		f.driver.On("FindAll", mock.Anything, f.cfg.Selectors.Username).Return(mocks.Elements(), nil)

		nav := f.navigator()
		res := nav.Authenticate(context.Background())

		assert.False(t, res.Authenticated)
		assert.True(t, browser.IsKind(res.Err, browser.FaultAuth))
		assert.Equal(t, journal.OpenedLogin, f.journal.Lines()[0])
		assert.Contains(t, f.journal.Lines()[1], "Login failed")
		assert.Equal(t, 1, f.logs.FilterMessage("Authentication failed.").Len())
	})

	t.Run("navigation fault is swallowed", func(t *testing.T) {
		f := newFixture(t)
		fault := browser.NewFault(browser.FaultNavigation, "navigate", errors.New("timeout"))
		f.driver.On("Navigate", mock.Anything, f.cfg.LoginURL).Return(fault)

		res := f.navigator().Authenticate(context.Background())

		assert.False(t, res.Authenticated)
		assert.True(t, browser.IsKind(res.Err, browser.FaultNavigation))
		assert.Len(t, f.journal.Lines(), 1)
		assert.Empty(t, f.sleeper.Waits())
	})
}

func TestPickTag(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tags = []string{"a", "b", "c"}
	nav := f.navigator()

	seen := map[string]bool{}
	for i := 0; i < 300; i++ {
		seen[nav.PickTag()] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}

func TestDiscoverByTag(t *testing.T) {
	t.Run("opens the escaped tag url and waits", func(t *testing.T) {
		f := newFixture(t)
		want := "https://www.instagram.com/explore/tags/%E8%B5%B7%E6%A5%AD"
		f.driver.On("Navigate", mock.Anything, want).Return(nil).Once()

		entry := f.navigator().DiscoverByTag(context.Background(), "起業")

		assert.True(t, entry.Loaded)
		assert.NoError(t, entry.Err)
		assert.Equal(t, "起業", entry.Tag)
		assert.Equal(t, want, entry.URL)
		assert.Equal(t, []string{"Searched posts tagged #起業."}, f.journal.Lines())

		waits := f.sleeper.Waits()
		require.Len(t, waits, 2)
		assert.GreaterOrEqual(t, waits[0], 2*time.Second)
		assert.LessOrEqual(t, waits[0], 10*time.Second)
		assert.Equal(t, 10*time.Second, waits[1])
		f.driver.AssertExpectations(t)
	})

	t.Run("navigation failure is reported in the entry point", func(t *testing.T) {
		f := newFixture(t)
		f.driver.On("Navigate", mock.Anything, mock.Anything).
			Return(browser.NewFault(browser.FaultNavigation, "navigate", errors.New("dns")))

		entry := f.navigator().DiscoverByTag(context.Background(), "go")

		assert.False(t, entry.Loaded)
		assert.True(t, browser.IsKind(entry.Err, browser.FaultNavigation))
		assert.Equal(t, []string{"Tag search for #go failed: navigation fault during navigate: dns."}, f.journal.Lines())
	})

	t.Run("cancellation during settle is journaled", func(t *testing.T) {
		f := newFixture(t)
		f.sleeper.FailAfter = 1
		f.driver.On("Navigate", mock.Anything, mock.Anything).Return(nil)

		entry := f.navigator().DiscoverByTag(context.Background(), "go")

		assert.False(t, entry.Loaded)
		assert.ErrorIs(t, entry.Err, context.Canceled)
		assert.Equal(t, []string{"Tag search for #go failed: context canceled."}, f.journal.Lines())
		assert.Len(t, f.sleeper.Waits(), 1, "no pause after an interrupted settle")
	})
}
