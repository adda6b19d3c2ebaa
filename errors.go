package widgets

import (
	"errors"
	"fmt"
)

// Sentinel errors for widget rendering and hydration.
var (
	// ErrTimeout is surfaced when a widget's state stream fails to produce a
	// value before its configured server-side deadline. It is distinct from a
	// computation failure: the underlying computation keeps running, the
	// render just stops waiting for it.
	ErrTimeout = errors.New("widgets: timed out awaiting widget state during server render")

	// ErrOutsideWidget is reported when widget state is consumed outside the
	// scope of the providing widget's subtree.
	ErrOutsideWidget = errors.New("widgets: cannot use Inject or StateOf outside the scope of the specified widget's context")

	// ErrNoImmediateState is reported when a widget's state stream fails to
	// produce a value synchronously where the protocol requires one.
	ErrNoImmediateState = errors.New("widgets: state stream produced no immediate value")

	// ErrMountPointNotFound is reported per instance when a stored mount
	// point id has no matching element in the document.
	ErrMountPointNotFound = errors.New("widgets: hydration mount point not found")

	// ErrAlreadyHydrated is reported when hydration is attempted for a widget
	// whose stored payload is already marked hydrated.
	ErrAlreadyHydrated = errors.New("widgets: widget is already hydrated")

	// ErrNotWidget is reported when a non-widget component is passed to the
	// hydration entry point.
	ErrNotWidget = errors.New("widgets: component is not a widget")
)

// IsTimeout checks if err is a server render timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// noImmediateStateError describes a protocol violation: a state stream that
// should have produced a value synchronously did not. The message
// distinguishes the hydration fallback path from the pure render path.
func noImmediateStateError(name string, phase Phase) error {
	if name == "" {
		name = "(unknown)"
	}
	path := "first client-side render"
	if phase == PhaseHydrating {
		path = "hydration without stored data"
	}
	return fmt.Errorf("%w: widget %q during %s", ErrNoImmediateState, name, path)
}
