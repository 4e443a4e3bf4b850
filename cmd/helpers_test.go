// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/clock"
	"github.com/xkilldash9x/cadence-cli/internal/config"
	"github.com/xkilldash9x/cadence-cli/internal/mocks"
	"github.com/xkilldash9x/cadence-cli/internal/observability"
)

// syncBuffer is a goroutine-safe output sink for commands that keep running.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testEnv is an isolated working directory with a config file and scripted browser.
type testEnv struct {
	dir        string
	configPath string
	journal    string
	sleeper    *clock.Recording

	mu    sync.Mutex
	feeds []*mocks.Feed
}

func referencePosts() []mocks.Post {
	return []mocks.Post{{Controls: 2}, {Controls: 2}, {Controls: 2}, {Controls: 2}, {Controls: 1}}
}

// newTestEnv writes a config that keeps every file inside a temp dir and swaps the browser
// backend and the clock for test doubles.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		journal:    filepath.Join(dir, "journal.txt"),
		sleeper:    &clock.Recording{},
	}

	content := fmt.Sprintf(`
logger:
  level: error
  format: json
  log_file: %q
navigator:
  tags: ["gopher"]
engagement:
  budget:
    min: 3
    max: 3
journal:
  path: %q
database:
  driver: sqlite
  url: %q
%s`, filepath.Join(dir, "cadence.log"), env.journal, filepath.Join(dir, "history.db"), extra)
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o600))

	t.Setenv("CADENCE_ACCOUNT_USERNAME", "cadence.bot")
	t.Setenv("CADENCE_ACCOUNT_PASSWORD", "hunter2")

	engagement := config.NewDefaultConfig().Engagement
	newFactory = func(config.BrowserConfig, *zap.Logger) (browser.Factory, error) {
		return browser.FactoryFunc(func(context.Context) (browser.Driver, error) {
			feed := mocks.NewFeed(engagement, referencePosts()...)
			env.mu.Lock()
			env.feeds = append(env.feeds, feed)
			env.mu.Unlock()
			return feed, nil
		}), nil
	}
	newClock = func(uint64) *clock.Clock {
		return clock.New(clock.WithSeed(17), clock.WithSleeper(env.sleeper))
	}

	t.Cleanup(func() {
		newFactory = defaultFactory
		newClock = defaultClock
		pollJournal = false
		observability.ResetForTest()
	})
	return env
}

func (e *testEnv) Feeds() []*mocks.Feed {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*mocks.Feed(nil), e.feeds...)
}

// execute runs a fresh command tree and returns its combined output.
func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeCommand(t, context.Background(), append([]string{"--config", e.configPath}, args...)...)
}

func executeCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()

	root := NewRootCommand()
	out := &syncBuffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}
