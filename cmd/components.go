// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/browser/cdp"
	"github.com/xkilldash9x/cadence-cli/internal/browser/rodriver"
	"github.com/xkilldash9x/cadence-cli/internal/clock"
	"github.com/xkilldash9x/cadence-cli/internal/config"
	"github.com/xkilldash9x/cadence-cli/internal/journal"
	"github.com/xkilldash9x/cadence-cli/internal/store"
)

// Injection points for tests.
var (
	newFactory  = defaultFactory
	newClock    = defaultClock
	openStore   = store.Open
	openJournal = journal.Open
)

func browserOptions(cfg config.BrowserConfig) browser.Options {
	return browser.Options{
		Headless:         cfg.Headless,
		ExecPath:         cfg.ExecPath,
		UserDataDir:      cfg.UserDataDir,
		ProfileDirectory: cfg.ProfileDirectory,
		Args:             cfg.Args,
		WindowWidth:      cfg.WindowWidth,
		WindowHeight:     cfg.WindowHeight,
		ImplicitWait:     cfg.ImplicitWait,
		PageLoadTimeout:  cfg.PageLoadTimeout,
	}
}

func defaultFactory(cfg config.BrowserConfig, logger *zap.Logger) (browser.Factory, error) {
	opts := browserOptions(cfg)
	switch cfg.Backend {
	case config.BackendChromedp:
		return cdp.NewFactory(opts, logger), nil
	case config.BackendRod:
		return rodriver.NewFactory(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser backend %q", cfg.Backend)
	}
}

func defaultClock(seed uint64) *clock.Clock {
	if seed == 0 {
		return clock.New()
	}
	return clock.New(clock.WithSeed(seed))
}

// components holds everything a session run needs.
type components struct {
	Factory  browser.Factory
	Clock    *clock.Clock
	Journal  *journal.File
	Lines    *journal.Recorder
	Sink     journal.Sink
	Recorder store.Recorder
	logger   *zap.Logger
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{logger: logger}

	factory, err := newFactory(cfg.Browser, logger)
	if err != nil {
		return nil, err
	}
	c.Factory = factory
	c.Clock = newClock(cfg.Engagement.Seed)

	file, err := openJournal(cfg.Journal, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	c.Journal = file
	c.Lines = journal.NewRecorder(cfg.Journal.Keep)
	c.Sink = journal.Tee{file, c.Lines}

	recorder, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	c.Recorder = recorder
	return c, nil
}

// Shutdown closes the journal and the store.
func (c *components) Shutdown() {
	if c.Recorder != nil {
		if err := c.Recorder.Close(); err != nil {
			c.logger.Warn("Error closing session store.", zap.Error(err))
		}
	}
	if c.Journal != nil {
		if err := c.Journal.Close(); err != nil {
			c.logger.Warn("Error closing journal.", zap.Error(err))
		}
	}
}
