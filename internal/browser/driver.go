// Package browser defines the page driver capability the navigator and engagement loop
// operate against, plus the fault taxonomy every backend reports through.
package browser

import (
	"context"
	"time"
)

// Element is a located node on the current page.
type Element interface {
	Click(ctx context.Context) error
	SendKeys(ctx context.Context, text string) error
	// Attribute returns the attribute value, or "" when the attribute is absent.
	Attribute(ctx context.Context, name string) (string, error)
}

// Driver is one controlled browser session.
type Driver interface {
	// Navigate loads url and waits for the page load, bounded by the page-load timeout.
	Navigate(ctx context.Context, url string) error
	// FindAll returns every element matching selector in document order. It waits up to the
	// implicit wait for a first match and returns an empty slice, not an error, when none
	// shows up.
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// Close releases the tab and the browser process. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Factory acquires fresh driver sessions.
type Factory interface {
	Acquire(ctx context.Context) (Driver, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Driver, error)

func (f FactoryFunc) Acquire(ctx context.Context) (Driver, error) { return f(ctx) }

// Options are the settings shared by every backend.
type Options struct {
	Headless         bool
	ExecPath         string
	UserDataDir      string
	ProfileDirectory string
	Args             []string
	WindowWidth      int
	WindowHeight     int
	ImplicitWait     time.Duration
	PageLoadTimeout  time.Duration
}
