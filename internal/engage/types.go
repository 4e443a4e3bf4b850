package engage

import "fmt"

// State is a position in the engagement state machine.
type State int

const (
	EnteringFeed State = iota
	Engaging
	Paginating
	Terminated
)

func (s State) String() string {
	switch s {
	case EnteringFeed:
		return "entering-feed"
	case Engaging:
		return "engaging"
	case Paginating:
		return "paginating"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Variant selects which listing the first post is taken from.
type Variant string

const (
	Trending Variant = "trending"
	Recent   Variant = "recent"
)

// Reason tells why a loop reached Terminated.
type Reason string

const (
	BudgetExhausted Reason = "budget-exhausted"
	FeedExhausted   Reason = "feed-exhausted"
	Faulted         Reason = "fault"
)

// Outcome is the result of one engagement attempt on a post.
type Outcome string

const (
	Applied        Outcome = "applied"
	AlreadyApplied Outcome = "already-applied"
	Unavailable    Outcome = "unavailable"
)

// Budget counts the engagement actions a session may still apply.
type Budget struct {
	initial   int
	remaining int
}

// NewBudget creates a budget of n actions. Negative values are treated as zero.
func NewBudget(n int) *Budget {
	n = max(n, 0)
	return &Budget{initial: n, remaining: n}
}

func (b *Budget) Initial() int   { return b.initial }
func (b *Budget) Remaining() int { return b.remaining }

// Exhausted reports whether no action is left.
func (b *Budget) Exhausted() bool { return b.remaining <= 0 }

// Spend takes one action from the budget. It returns false, leaving the budget untouched,
// when nothing is left.
func (b *Budget) Spend() bool {
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Cursor tracks the open post within the feed.
type Cursor struct {
	// Post is the 1-based number of the open post, 0 before the feed is entered.
	Post int
	// Controls is how many pagination controls the last lookup returned.
	Controls     int
	HasPrevious  bool
	HasNext      bool
	FirstAttempt bool
}

// observe records a pagination lookup. Two controls mean a middle post. A lone control is
// read as "next" on the first hop and as "previous" afterwards; that reading depends on how
// the feed renders its controls and is not guaranteed by it.
func (c *Cursor) observe(controls int) {
	c.Controls = controls
	switch {
	case controls >= 2:
		c.HasPrevious, c.HasNext = true, true
	case controls == 1 && c.FirstAttempt:
		c.HasPrevious, c.HasNext = false, true
	case controls == 1:
		c.HasPrevious, c.HasNext = true, false
	default:
		c.HasPrevious, c.HasNext = false, false
	}
}

// StepKind labels an entry in a loop trace.
type StepKind string

const (
	StepEnter   StepKind = "enter"
	StepApply   StepKind = "apply"
	StepSkip    StepKind = "skip"
	StepMiss    StepKind = "miss"
	StepAdvance StepKind = "advance"
	StepEnd     StepKind = "end"
)

// Step is one transition taken on a post.
type Step struct {
	Post int
	Kind StepKind
}

// Result describes a finished loop.
type Result struct {
	Reason         Reason
	Variant        Variant
	Initial        int
	Remaining      int
	Applied        int
	AlreadyApplied int
	Unavailable    int
	// Posts is the number of posts visited.
	Posts  int
	Cursor Cursor
	Steps  []Step
	// Err is set when Reason is Faulted.
	Err error
}
