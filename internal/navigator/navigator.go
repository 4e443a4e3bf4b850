// Package navigator logs the account in and opens a tag's content index.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/clock"
	"github.com/xkilldash9x/cadence-cli/internal/config"
	"github.com/xkilldash9x/cadence-cli/internal/journal"
)

// ErrNoCredentials is returned when the username or password is not configured.
var ErrNoCredentials = errors.New("credentials are not configured")

// AuthResult reports a login attempt. Err explains why Authenticated is false.
type AuthResult struct {
	Authenticated bool
	Err           error
}

// FeedEntryPoint is a tag's content index, ready for the engagement loop.
type FeedEntryPoint struct {
	Tag    string
	URL    string
	Loaded bool
	Err    error
}

// Navigator drives authentication and tag discovery on one driver session.
type Navigator struct {
	driver  browser.Driver
	cfg     config.NavigatorConfig
	account config.AccountConfig
	clock   *clock.Clock
	journal journal.Sink
	logger  *zap.Logger
}

// New creates a navigator bound to a driver session.
func New(driver browser.Driver, cfg config.NavigatorConfig, account config.AccountConfig, clk *clock.Clock, sink journal.Sink, logger *zap.Logger) *Navigator {
	if sink == nil {
		sink = journal.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		driver:  driver,
		cfg:     cfg,
		account: account,
		clock:   clk,
		journal: sink,
		logger:  logger.Named("navigator"),
	}
}

// Authenticate submits the stored credentials on the login page. It never fails the
// caller: any problem is journaled and reported as an unauthenticated result.
func (n *Navigator) Authenticate(ctx context.Context) AuthResult {
	if err := n.login(ctx); err != nil {
		n.logger.Warn("Authentication failed.", zap.Error(err))
		n.journal.Append(journal.LoginFailed(err))
		return AuthResult{Err: err}
	}
	n.journal.Append(journal.LoggedIn)
	n.logger.Info("Authenticated.")
	return AuthResult{Authenticated: true}
}

func (n *Navigator) login(ctx context.Context) error {
	if !n.account.HasCredentials() {
		return browser.NewFault(browser.FaultAuth, "login", ErrNoCredentials)
	}

	if err := n.driver.Navigate(ctx, n.cfg.LoginURL); err != nil {
		return err
	}
	n.journal.Append(journal.OpenedLogin)

	if err := n.clock.Sleep(ctx, n.cfg.FieldPause); err != nil {
		return err
	}
	if err := n.typeInto(ctx, n.cfg.Selectors.Username, n.account.Username); err != nil {
		return err
	}
	if err := n.clock.Sleep(ctx, n.cfg.FieldPause); err != nil {
		return err
	}
	if err := n.typeInto(ctx, n.cfg.Selectors.Password, n.account.Password); err != nil {
		return err
	}
	if err := n.clock.Sleep(ctx, n.cfg.SubmitPause); err != nil {
		return err
	}

	submit, err := n.first(ctx, n.cfg.Selectors.Submit)
	if err != nil {
		return err
	}
	if err := submit.Click(ctx); err != nil {
		return err
	}
	_, err = n.clock.SleepRange(ctx, n.cfg.PostSubmit)
	return err
}

func (n *Navigator) typeInto(ctx context.Context, selector, text string) error {
	field, err := n.first(ctx, selector)
	if err != nil {
		return err
	}
	return field.SendKeys(ctx, text)
}

// first returns the first element matching selector, or an auth fault when the login
// form does not have it.
func (n *Navigator) first(ctx context.Context, selector string) (browser.Element, error) {
	found, err := n.driver.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, browser.NewFault(browser.FaultAuth, "find "+selector, errors.New("login element not found"))
	}
	return found[0], nil
}

// PickTag returns one configured tag chosen uniformly at random.
func (n *Navigator) PickTag() string {
	if len(n.cfg.Tags) == 0 {
		return ""
	}
	return n.cfg.Tags[n.clock.Pick(len(n.cfg.Tags))]
}

// TagURL returns the content index address for tag.
func (n *Navigator) TagURL(tag string) string {
	return n.cfg.TagURL + url.PathEscape(tag)
}

// DiscoverByTag opens the tag's content index and waits for it to populate. Failures are
// reported in the returned value.
func (n *Navigator) DiscoverByTag(ctx context.Context, tag string) FeedEntryPoint {
	entry := FeedEntryPoint{Tag: tag, URL: n.TagURL(tag)}
	log := n.logger.With(zap.String("tag", tag))

	if err := n.driver.Navigate(ctx, entry.URL); err != nil {
		entry.Err = fmt.Errorf("discover #%s: %w", tag, err)
		log.Warn("Tag discovery failed.", zap.Error(err))
		n.journal.Append(journal.SearchFailed(tag, err))
		return entry
	}
	if _, err := n.clock.SleepRange(ctx, n.cfg.DiscoverSettle); err != nil {
		entry.Err = err
		log.Warn("Tag index did not settle.", zap.Error(err))
		n.journal.Append(journal.SearchFailed(tag, err))
		return entry
	}

	n.journal.Append(journal.Searched(tag))
	entry.Loaded = true
	log.Info("Opened tag index.", zap.String("url", entry.URL))

	if err := n.clock.Sleep(ctx, n.cfg.PostDiscoverPause); err != nil {
		entry.Err = err
	}
	return entry
}
