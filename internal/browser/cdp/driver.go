// Package cdp implements the page driver on top of chromedp.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
)

// Factory launches one Chrome process per acquired driver.
type Factory struct {
	opts   browser.Options
	logger *zap.Logger
}

// NewFactory creates a chromedp backed factory.
func NewFactory(opts browser.Options, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{opts: opts, logger: logger.Named("cdp")}
}

// Acquire starts a browser and opens a blank tab. The browser outlives ctx; only Close
// stops it.
func (f *Factory) Acquire(ctx context.Context) (browser.Driver, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), buildAllocatorOptions(f.opts)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	cleanup := func() {
		cancelTab()
		cancelAlloc()
	}

	// The first Run allocates the browser. It must run on the tab context itself, since the
	// browser is bound to whichever context performs the allocation.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		cleanup()
		<-started
		return nil, ctx.Err()
	}

	f.logger.Debug("Browser started.", zap.Bool("headless", f.opts.Headless))
	return &Driver{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		opts:        f.opts,
		logger:      f.logger,
	}, nil
}

// buildAllocatorOptions assembles the Chrome flags for a session.
func buildAllocatorOptions(o browser.Options) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// A false boolean flag is dropped from the command line, so this undoes the default.
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-gpu", o.Headless),
		chromedp.Flag("disable-extensions", true),
	)
	if o.WindowWidth > 0 && o.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(o.WindowWidth, o.WindowHeight))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(o.UserDataDir))
	}
	if o.ProfileDirectory != "" {
		opts = append(opts, chromedp.Flag("profile-directory", o.ProfileDirectory))
	}

	for _, arg := range o.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// Driver is one chromedp tab.
type Driver struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	opts        browser.Options
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// run executes actions on the tab, bounded by both the caller's context and timeout.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(d.tabCtx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	return chromedp.Run(runCtx, actions...)
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, d.opts.PageLoadTimeout, chromedp.Navigate(url)); err != nil {
		return browser.NewFault(browser.FaultNavigation, "navigate "+url, err)
	}
	return nil
}

func (d *Driver) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	var nodes []*cdp.Node
	err := d.run(ctx, d.opts.ImplicitWait, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && d.tabCtx.Err() == nil {
			// Nothing matched within the implicit wait.
			return []browser.Element{}, nil
		}
		return nil, browser.NewFault(browser.FaultTransientUI, "find "+selector, err)
	}

	elements := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			elements = append(elements, &element{d: d, node: n})
		}
	}
	return elements, nil
}

// Close shuts the tab and the browser process.
func (d *Driver) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(d.tabCtx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				d.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-ctx.Done():
			d.closeErr = fmt.Errorf("browser close interrupted: %w", ctx.Err())
		}
		d.cancelTab()
		d.cancelAlloc()
		d.logger.Debug("Browser closed.")
	})
	return d.closeErr
}

type element struct {
	d    *Driver
	node *cdp.Node
}

func (e *element) Click(ctx context.Context) error {
	if err := e.d.run(ctx, e.d.opts.ImplicitWait, chromedp.MouseClickNode(e.node)); err != nil {
		return browser.NewFault(browser.FaultTransientUI, "click", err)
	}
	return nil
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	ids := []cdp.NodeID{e.node.NodeID}
	if err := e.d.run(ctx, e.d.opts.ImplicitWait, chromedp.SendKeys(ids, text, chromedp.ByNodeID)); err != nil {
		return browser.NewFault(browser.FaultTransientUI, "send keys", err)
	}
	return nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	var (
		value string
		ok    bool
	)
	ids := []cdp.NodeID{e.node.NodeID}
	if err := e.d.run(ctx, e.d.opts.ImplicitWait, chromedp.AttributeValue(ids, name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", browser.NewFault(browser.FaultTransientUI, "read attribute "+name, err)
	}
	return value, nil
}

// combineContext returns a context that carries parent's values and is cancelled when
// either parent or secondary is done.
func combineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
