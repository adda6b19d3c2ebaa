package widgets

import "context"

// Phase identifies how a widget obtains its state during a render.
//
// Outside any entry point the phase is unset, which consumers treat as
// live client rendering with no special behavior.
type Phase int

const (
	// PhaseUnset means no entry point has installed a phase. Widgets treat
	// it the same as PhaseLive.
	PhaseUnset Phase = iota
	// PhaseServer is set for the duration of a server render pass.
	PhaseServer
	// PhaseHydrating is set per mount point while stored state is being
	// replayed, and flips to live once the engine reports hydration done.
	PhaseHydrating
	// PhaseLive is normal client-side rendering against live state.
	PhaseLive
)

func (p Phase) String() string {
	switch p {
	case PhaseServer:
		return "server"
	case PhaseHydrating:
		return "hydrating"
	case PhaseLive:
		return "live"
	default:
		return "unset"
	}
}

type phaseContextKey struct{}

// withPhase installs a phase accessor for a subtree. The accessor form (rather
// than a fixed value) lets the hydration entry point flip its backing flag
// once without re-threading the context.
func withPhase(ctx context.Context, get func() Phase) context.Context {
	return context.WithValue(ctx, phaseContextKey{}, get)
}

// CurrentPhase reports the rendering phase installed on ctx, or PhaseUnset
// when called outside any entry point.
func CurrentPhase(ctx context.Context) Phase {
	if get, ok := ctx.Value(phaseContextKey{}).(func() Phase); ok {
		return get()
	}
	return PhaseUnset
}
