package widgets

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Inject renders via fn once the widget publishing on ch has state. While
// the state stream hasn't produced a value it renders nothing; pair with
// Loading for a placeholder. Rendering outside the widget's subtree fails
// with ErrOutsideWidget.
func Inject[S any](ch *Channel[S], fn func(state S) templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		state, ok, err := StateOf(ctx, ch)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return fn(state).Render(ctx, out)
	})
}

// Loading renders via fn while the widget publishing on ch has produced no
// state yet, and nothing once state exists.
func Loading[S any](ch *Channel[S], fn func() templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		_, ok, err := StateOf(ctx, ch)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		return fn().Render(ctx, out)
	})
}

// Connect couples a state-driven component with an optional loading
// placeholder: component renders with the widget's state when available,
// loading (if non-nil) renders otherwise.
func Connect[S any](ch *Channel[S], component func(state S) templ.Component, loading templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		state, ok, err := StateOf(ctx, ch)
		if err != nil {
			return err
		}
		if ok {
			return component(state).Render(ctx, out)
		}
		if loading != nil {
			return loading.Render(ctx, out)
		}
		return nil
	})
}
