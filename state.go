package widgets

import (
	"context"
	"reflect"

	"github.com/pthm/widgets/lib/stream"
)

// Channel is the typed channel a widget publishes its resolved state stream
// into. Descendants of the widget — including components outside the widget's
// own render function — consume state through it with StateOf, WatchState or
// Inject.
//
// Widgets can be nested, so the widget whose state is wanted is identified by
// its channel, not by proximity.
type Channel[S any] struct {
	name string
}

// NewChannel creates a state channel. The name is used in diagnostics only.
func NewChannel[S any](name string) *Channel[S] {
	return &Channel[S]{name: name}
}

// Name returns the channel's diagnostic name.
func (c *Channel[S]) Name() string { return c.name }

// channelValue is what a widget instance installs on the render context.
type channelValue[S any] struct {
	state     *stream.Property[S]
	name      string
	elementID string
}

func withChannelValue[S any](ctx context.Context, ch *Channel[S], v channelValue[S]) context.Context {
	return context.WithValue(ctx, ch, v)
}

// CompareFunc reports whether two consecutive state values should be treated
// as duplicates, suppressing a re-render.
type CompareFunc[S any] func(a, b S) bool

// CompareKeys builds a CompareFunc that shallow-compares the named properties
// of two state values. State may be a struct (field names) or a map (keys).
func CompareKeys[S any](keys ...string) CompareFunc[S] {
	return func(a, b S) bool {
		for _, k := range keys {
			if !identical(fieldValue(a, k), fieldValue(b, k)) {
				return false
			}
		}
		return true
	}
}

func fieldValue(v any, key string) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		f := rv.FieldByName(key)
		if f.IsValid() && f.CanInterface() {
			return f.Interface()
		}
	case reflect.Map:
		f := rv.MapIndex(reflect.ValueOf(key))
		if f.IsValid() {
			return f.Interface()
		}
	}
	return nil
}

// identical is shallow equality that tolerates uncomparable values.
func identical(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// StateOf extracts a widget's current state from its channel.
//
// The second result reports whether a value was available. During server
// rendering a missing immediate value is a protocol violation and returns an
// error; the widget state machine only commits to rendering its subtree once
// a state snapshot exists, so the snapshot must always be observable here.
// On the client a missing immediate value is logged and reported as not-ok,
// letting Loading render instead.
//
// Consuming outside the providing widget's subtree returns ErrOutsideWidget.
func StateOf[S any](ctx context.Context, ch *Channel[S]) (S, bool, error) {
	var zero S
	v, ok := ctx.Value(ch).(channelValue[S])
	if !ok || v.state == nil {
		return zero, false, ErrOutsideWidget
	}
	if st, has := v.state.TryValue(); has {
		return st, true, nil
	}
	if err := v.state.Err(); err != nil {
		return zero, false, err
	}
	phase := CurrentPhase(ctx)
	if phase == PhaseServer {
		return zero, false, noImmediateStateError(v.name, phase)
	}
	logger.Error(noImmediateStateError(v.name, phase).Error())
	return zero, false, nil
}

// WatchState subscribes fn to a widget's state stream with duplicate
// suppression. The first value is delivered synchronously when available;
// each subsequent value that compare doesn't flag as a duplicate of its
// predecessor triggers another call. A nil compare delivers everything.
//
// The returned Unsubscribe must be called on consumer teardown.
func WatchState[S any](ctx context.Context, ch *Channel[S], compare CompareFunc[S], fn func(S)) (stream.Unsubscribe, error) {
	v, ok := ctx.Value(ch).(channelValue[S])
	if !ok || v.state == nil {
		return nil, ErrOutsideWidget
	}
	return stream.SkipDuplicates(v.state, compare).OnValue(fn), nil
}

// MountPointOf reports the mount point element id associated with a widget's
// channel, which is only present while the widget is hydrating.
func MountPointOf[S any](ctx context.Context, ch *Channel[S]) (string, bool) {
	v, ok := ctx.Value(ch).(channelValue[S])
	if !ok || v.elementID == "" {
		return "", false
	}
	return v.elementID, true
}
