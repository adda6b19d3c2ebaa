package widgets

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// hydrationAccessor hands a hydrating widget its stored snapshot. It returns
// the snapshot for the widget's correlation key, the mount point element id,
// and whether a snapshot was found. Once the mount point's hydration ends it
// always reports not-found.
type hydrationAccessor func(name string, props any) (hydration any, elementID string, ok bool)

type hydrationContextKey struct{}

func withHydration(ctx context.Context, acc hydrationAccessor) context.Context {
	return context.WithValue(ctx, hydrationContextKey{}, acc)
}

func hydrationFrom(ctx context.Context) hydrationAccessor {
	acc, _ := ctx.Value(hydrationContextKey{}).(hydrationAccessor)
	return acc
}

type hydrateOptions struct {
	warnIfNotFound        bool
	warnIfAlreadyHydrated bool
}

// HydrateOption configures Hydrate.
type HydrateOption func(*hydrateOptions)

// WithWarnIfNotFound controls whether a missing store or missing widget
// entry logs a warning. Off by default.
func WithWarnIfNotFound(warn bool) HydrateOption {
	return func(o *hydrateOptions) { o.warnIfNotFound = warn }
}

// WithWarnIfAlreadyHydrated controls whether hydrating an already-hydrated
// widget logs a warning. On by default.
func WithWarnIfAlreadyHydrated(warn bool) HydrateOption {
	return func(o *hydrateOptions) { o.warnIfAlreadyHydrated = warn }
}

// Hydrate replays stored server state into live instances of w: every
// instance recorded in the store is located in the document by mount point
// id and mounted in hydrating mode, reconstructing its state synchronously
// from the stored snapshot with no recomputation.
//
// Failure handling is per instance: a missing mount point, undecodable
// props, or a missing widget entry skips the affected instance (or the whole
// call) with a logged diagnostic and no error. Only an error from the
// engine's mount primitive is returned, after logging, failing the call.
//
// Hydration is single-shot per widget name: the store's hydrated flag is set
// when the pass completes, and a second call finds it set and does nothing
// beyond an optional warning.
func Hydrate[P, S, H any](ctx context.Context, w *Widget[P, S, H], store *Store, doc Document, engine Engine, opts ...HydrateOption) error {
	o := &hydrateOptions{warnIfAlreadyHydrated: true}
	for _, opt := range opts {
		opt(o)
	}

	if w == nil || w.name == "" {
		logger.Error(ErrNotWidget.Error())
		return nil
	}
	if store == nil {
		if o.warnIfNotFound {
			logger.Warn("widgets: no widgets to hydrate")
		}
		return nil
	}
	rec, ok := store.Widget(w.name)
	if !ok {
		if o.warnIfNotFound {
			logger.Warn(fmt.Sprintf("widgets: no hydration data found for widget %q", w.name))
		}
		return nil
	}
	if rec.Hydrated {
		if o.warnIfAlreadyHydrated {
			logger.Warn(fmt.Sprintf("widgets: widget %q is already hydrated", w.name), zap.Error(ErrAlreadyHydrated))
		}
		return nil
	}

	for mountID, instance := range rec.Instances {
		el, found := doc.ElementByID(mountID)
		if !found {
			logger.Error(fmt.Sprintf("widgets: cannot hydrate widget %q at mount point %q because the mount point wasn't found", w.name, "#"+mountID),
				zap.Error(ErrMountPointNotFound))
			continue
		}
		props, err := convert[P](instance.Props)
		if err != nil {
			logger.Error(fmt.Sprintf("widgets: cannot hydrate widget %q at mount point %q because its stored props don't decode", w.name, "#"+mountID),
				zap.Error(err))
			continue
		}
		if _, err := HydrateInstance(ctx, w, engine, el, props, instance.Hydration); err != nil {
			logger.Error(fmt.Sprintf("widgets: widget %q at %q failed while hydrating", w.name, "#"+mountID),
				zap.Error(err))
			return err
		}
	}

	rec.Hydrated = true
	return nil
}

// HydrateInstance hydrates a single mount point and returns the live
// instance. When snapshots exist the instance mounts in hydrating phase and
// reconstructs state from them; otherwise it mounts from scratch over
// whatever the element holds. Either way the instance is then attached to
// the engine for state-driven updates.
func HydrateInstance[P, S, H any](ctx context.Context, w *Widget[P, S, H], engine Engine, el Element, props P, hydration map[string]any) (*Instance[P, S, H], error) {
	inst := w.Instance(props)

	if len(hydration) > 0 {
		var done atomic.Bool
		phaseCtx := withPhase(ctx, func() Phase {
			if done.Load() {
				return PhaseLive
			}
			return PhaseHydrating
		})
		hydCtx := withHydration(phaseCtx, func(name string, p any) (any, string, bool) {
			if done.Load() {
				return nil, "", false
			}
			h, ok := hydration[DeriveKey(name, p)]
			return h, el.ID(), ok
		})
		if err := engine.Hydrate(hydCtx, el, inst, func() { done.Store(true) }); err != nil {
			return nil, err
		}
	} else {
		if err := engine.Mount(ctx, el, inst); err != nil {
			return nil, err
		}
	}

	inst.attach(ctx, engine, el)
	return inst, nil
}
