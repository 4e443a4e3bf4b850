// Package rodriver implements the page driver on top of go-rod.
package rodriver

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
)

// Factory launches one browser per acquired driver.
type Factory struct {
	opts   browser.Options
	logger *zap.Logger
}

// NewFactory creates a rod backed factory.
func NewFactory(opts browser.Options, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{opts: opts, logger: logger.Named("rod")}
}

func (f *Factory) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(f.opts.Headless)
	if f.opts.ExecPath != "" {
		l = l.Bin(f.opts.ExecPath)
	}
	if f.opts.UserDataDir != "" {
		l = l.UserDataDir(f.opts.UserDataDir)
	}
	if f.opts.ProfileDirectory != "" {
		l = l.Set("profile-directory", f.opts.ProfileDirectory)
	}
	if f.opts.WindowWidth > 0 && f.opts.WindowHeight > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", f.opts.WindowWidth, f.opts.WindowHeight))
	}
	l = l.Set("disable-extensions").Delete("enable-automation")

	for _, arg := range f.opts.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := flags.Flag(strings.TrimPrefix(parts[0], "--"))
		if len(parts) == 2 {
			l = l.Set(name, parts[1])
		} else {
			l = l.Set(name)
		}
	}

	if runtime.GOOS == "linux" {
		l = l.Set("no-sandbox").Set("disable-dev-shm-usage").Set("disable-setuid-sandbox")
	}
	return l
}

// Acquire launches a browser and opens a blank page.
func (f *Factory) Acquire(ctx context.Context) (browser.Driver, error) {
	l := f.newLauncher().Context(ctx)
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		f.kill(l)
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		f.kill(l)
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	f.logger.Debug("Browser started.", zap.Bool("headless", f.opts.Headless))
	return &Driver{
		browser:  b,
		page:     page,
		launcher: l,
		factory:  f,
		opts:     f.opts,
		logger:   f.logger,
	}, nil
}

// kill stops the process. Temporary profile directories are removed; a configured user
// data dir is left alone so the login survives.
func (f *Factory) kill(l *launcher.Launcher) {
	l.Kill()
	if f.opts.UserDataDir == "" {
		l.Cleanup()
	}
}

// Driver is one rod page.
type Driver struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	factory  *Factory
	opts     browser.Options
	logger   *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// timedPage binds p to ctx, bounded by d when positive. The returned func stops the timer.
func timedPage(ctx context.Context, p *rod.Page, d time.Duration) (*rod.Page, func()) {
	p = p.Context(ctx)
	if d <= 0 {
		return p, func() {}
	}
	p = p.Timeout(d)
	return p, func() { p.CancelTimeout() }
}

func timedElement(ctx context.Context, el *rod.Element, d time.Duration) (*rod.Element, func()) {
	el = el.Context(ctx)
	if d <= 0 {
		return el, func() {}
	}
	el = el.Timeout(d)
	return el, func() { el.CancelTimeout() }
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	p, cancel := timedPage(ctx, d.page, d.opts.PageLoadTimeout)
	defer cancel()
	if err := p.Navigate(url); err != nil {
		return browser.NewFault(browser.FaultNavigation, "navigate "+url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return browser.NewFault(browser.FaultNavigation, "wait load "+url, err)
	}
	return nil
}

func (d *Driver) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	// Element blocks until a first match appears, which gives the implicit wait.
	waiting, cancel := timedPage(ctx, d.page, d.opts.ImplicitWait)
	_, err := waiting.Element(selector)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return []browser.Element{}, nil
		}
		return nil, browser.NewFault(browser.FaultTransientUI, "find "+selector, err)
	}

	found, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, browser.NewFault(browser.FaultTransientUI, "find "+selector, err)
	}
	elements := make([]browser.Element, 0, len(found))
	for _, el := range found {
		elements = append(elements, &element{el: el, wait: d.opts.ImplicitWait})
	}
	return elements, nil
}

// Close closes the browser and stops its process.
func (d *Driver) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- d.browser.Close() }()
		select {
		case err := <-done:
			if err != nil {
				d.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-ctx.Done():
			d.closeErr = fmt.Errorf("browser close interrupted: %w", ctx.Err())
		}
		d.factory.kill(d.launcher)
		d.logger.Debug("Browser closed.")
	})
	return d.closeErr
}

type element struct {
	el   *rod.Element
	wait time.Duration
}

func (e *element) Click(ctx context.Context) error {
	el, cancel := timedElement(ctx, e.el, e.wait)
	defer cancel()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return browser.NewFault(browser.FaultTransientUI, "click", err)
	}
	return nil
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	el, cancel := timedElement(ctx, e.el, e.wait)
	defer cancel()
	if err := el.Input(text); err != nil {
		return browser.NewFault(browser.FaultTransientUI, "send keys", err)
	}
	return nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	el, cancel := timedElement(ctx, e.el, e.wait)
	defer cancel()
	v, err := el.Attribute(name)
	if err != nil {
		return "", browser.NewFault(browser.FaultTransientUI, "read attribute "+name, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}
