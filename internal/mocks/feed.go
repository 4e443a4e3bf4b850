package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/config"
)

// Post is one scripted post in a Feed.
type Post struct {
	// Applied is the initial state of the engagement control.
	Applied bool
	// Controls is how many pagination controls the post exposes.
	Controls int
	// NoControl hides the engagement control.
	NoControl bool
	// PaginationErr makes the pagination lookup on this post fail.
	PaginationErr error
	// ControlErr makes the engagement control lookup on this post fail.
	ControlErr error
}

// Feed is a scripted page driver that plays a paginated feed. Clicking the engagement
// control toggles the post, so a double toggle is visible in Applied. Clicking the last
// pagination control moves forward and clicking any other one moves back.
type Feed struct {
	mu sync.Mutex

	cfg   config.EngagementConfig
	posts []Post

	applied []bool
	current int // -1 until a first post is opened

	// NoEntry makes the first-post selectors match nothing.
	NoEntry bool
	// NavigateErr, when set, decides the result of every Navigate call.
	NavigateErr func(url string) error
	// Other is returned for any selector the feed does not script (login form fields).
	Other func(selector string) []browser.Element

	Navigations []string
	Typed       []string
	toggles     []int
	closes      int
}

// NewFeed builds a feed that answers to the selectors in cfg.
func NewFeed(cfg config.EngagementConfig, posts ...Post) *Feed {
	f := &Feed{cfg: cfg, posts: posts, current: -1, applied: make([]bool, len(posts))}
	for i, p := range posts {
		f.applied[i] = p.Applied
	}
	return f
}

// Current returns the 1-based number of the open post, or 0 before entry.
func (f *Feed) Current() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current + 1
}

// Applied reports the engagement state of every post.
func (f *Feed) Applied() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.applied))
	copy(out, f.applied)
	return out
}

// Toggles returns the 1-based post numbers whose control was clicked, in order.
func (f *Feed) Toggles() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.toggles))
	copy(out, f.toggles)
	return out
}

// Closes returns how many times Close was called.
func (f *Feed) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *Feed) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.Navigations = append(f.Navigations, url)
	f.current = -1
	hook := f.NavigateErr
	f.mu.Unlock()
	if hook != nil {
		return hook(url)
	}
	return nil
}

func (f *Feed) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch selector {
	case f.cfg.FirstPost.Trending, f.cfg.FirstPost.Recent:
		if f.NoEntry || len(f.posts) == 0 {
			return []browser.Element{}, nil
		}
		return []browser.Element{&feedElement{f: f, kind: "entry"}}, nil

	case f.cfg.ControlSelector, f.cfg.StateSelector:
		if f.current < 0 {
			return []browser.Element{}, nil
		}
		post := f.posts[f.current]
		if post.ControlErr != nil {
			return nil, post.ControlErr
		}
		if post.NoControl {
			return []browser.Element{}, nil
		}
		kind := "control"
		if selector == f.cfg.StateSelector && selector != f.cfg.ControlSelector {
			kind = "state"
		}
		return []browser.Element{&feedElement{f: f, kind: kind, post: f.current}}, nil

	case f.cfg.PaginationSelector:
		if f.current < 0 {
			return []browser.Element{}, nil
		}
		post := f.posts[f.current]
		if post.PaginationErr != nil {
			return nil, post.PaginationErr
		}
		out := make([]browser.Element, post.Controls)
		for i := range out {
			out[i] = &feedElement{f: f, kind: "page", post: f.current, index: i, last: i == post.Controls-1}
		}
		return out, nil
	}

	if f.Other != nil {
		return f.Other(selector), nil
	}
	return []browser.Element{&feedElement{f: f, kind: "field"}}, nil
}

func (f *Feed) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type feedElement struct {
	f     *Feed
	kind  string
	post  int
	index int
	last  bool
}

func (e *feedElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := e.f
	f.mu.Lock()
	defer f.mu.Unlock()

	switch e.kind {
	case "entry":
		f.current = 0
	case "control", "state":
		if e.post != f.current {
			return browser.NewFault(browser.FaultTransientUI, "click", fmt.Errorf("stale control for post %d", e.post+1))
		}
		f.applied[e.post] = !f.applied[e.post]
		f.toggles = append(f.toggles, e.post+1)
	case "page":
		if e.post != f.current {
			return browser.NewFault(browser.FaultTransientUI, "click", fmt.Errorf("stale pagination control on post %d", e.post+1))
		}
		if e.last {
			if f.current+1 >= len(f.posts) {
				return browser.NewFault(browser.FaultTransientUI, "click", fmt.Errorf("no post after %d", f.current+1))
			}
			f.current++
		} else if f.current > 0 {
			f.current--
		}
	}
	return nil
}

func (e *feedElement) SendKeys(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	e.f.Typed = append(e.f.Typed, text)
	return nil
}

func (e *feedElement) Attribute(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f := e.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if (e.kind == "state" || e.kind == "control") && name == f.cfg.StateAttribute {
		if f.applied[e.post] {
			return "applied", nil
		}
		return f.cfg.UnappliedValue, nil
	}
	return "", nil
}
