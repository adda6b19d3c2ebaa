// Package widgets provides isomorphic, state-driven widgets for Go web
// applications built on templ: a widget declares its data dependency as a
// reactive stream, renders the stream's first resolved value to markup on
// the server, and replays that state in the client without recomputation or
// flicker.
//
// # Core Concepts
//
// A widget couples a templ component with a state-producing function and a
// pair of pure transforms converting state to and from a minimized,
// serializable snapshot:
//
//	counter := widgets.New(widgets.Options[Props, State, Snapshot]{
//	    Name:      "counter",
//	    Component: counterView,
//	    State:     counterState,
//	    Dehydrate: func(s State) Snapshot { return Snapshot{Count: s.Count} },
//	    Hydrate:   func(h Snapshot, p Props) State { return State{Count: h.Count} },
//	})
//
// How a widget obtains its state depends on the current phase — server,
// hydrating, or live — read from the render context. The widget's own code
// never changes across phases.
//
// # Server Rendering
//
// RenderToHTML drives a widget tree to completion, including state that
// resolves asynchronously:
//
//	html, err := widgets.RenderToHTML(ctx, counter.Instance(Props{Start: 4}))
//
// Each widget instance derives a correlation key from its name and props
// (DeriveKey) and shares one state computation per key per render, so
// repeated instances with identical props compute state once. Widgets whose
// state isn't immediately available render nothing on that pass; the entry
// point waits on all pending computations and re-walks the tree until
// everything has resolved, then emits the markup together with a script tag
// storing props and minimized state under the __WIDGET_DATA__ global.
//
// # Hydration
//
// In the client, Hydrate locates each stored mount point and reconstructs
// widget state synchronously from the stored snapshot, then hands the state
// stream over to the live state function with a hydrated baseline so the
// already-known prefix isn't recomputed:
//
//	err := widgets.Hydrate(ctx, counter, store, doc, engine)
//
// Hydration is single-shot per widget name and degrades gracefully: missing
// data falls back to live computation, a bad mount point skips only that
// instance.
//
// # Consuming State
//
// A widget publishes its resolved state stream on a typed Channel; any
// descendant — inside or outside the widget's own component — consumes it:
//
//	widgets.Inject(counter.Channel(), func(s State) templ.Component {
//	    return countView(s.Count)
//	})
//
// StateOf extracts the current value, WatchState subscribes with duplicate
// suppression, and Loading/Connect cover placeholder rendering.
//
// # Design Rationale
//
// The system favors explicit plumbing over ambient state:
//   - The phase signal and state channels travel on context.Context, scoped
//     per render pass, never a mutable global.
//   - Widgets are recognized by an explicit descriptor, not property
//     sniffing; anything else is an opaque leaf.
//   - The hydration payload store is passed in at the entry point; the
//     __WIDGET_DATA__ global exists only at the page boundary.
//   - Asynchronous resolution is an explicit pending-set retry loop at the
//     render entry point, since a synchronous render pass cannot suspend.
package widgets
