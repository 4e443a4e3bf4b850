package browser

import (
	"errors"
	"fmt"
)

// FaultKind classifies a page driver failure.
type FaultKind string

const (
	// FaultTransientUI covers missing or stale elements and intercepted clicks.
	FaultTransientUI FaultKind = "transient-ui"
	// FaultNavigation covers page-load timeouts and network errors.
	FaultNavigation FaultKind = "navigation"
	// FaultAuth means the login surface was not usable.
	FaultAuth FaultKind = "auth"
)

// Fault is a classified page driver error.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s fault during %s", f.Kind, f.Op)
	}
	return fmt.Sprintf("%s fault during %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault wraps err. A nil err still yields a fault, since some failures (an empty match
// list, for instance) have no underlying error.
func NewFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first Fault in err's chain.
func KindOf(err error) (FaultKind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries a Fault of the given kind.
func IsKind(err error, kind FaultKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
