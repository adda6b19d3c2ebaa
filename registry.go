package widgets

import (
	"context"
	"sync"
	"time"

	"github.com/pthm/widgets/lib/stream"
)

// Meta is SSR metadata contributed by widgets during server rendering, for
// example cache-control hints derived from props and state.
type Meta = map[string]any

// widgetData is one resolved widget computation: the live state value, its
// dehydrated snapshot for the hydration payload, and SSR metadata.
type widgetData struct {
	state     any
	hydration any
	meta      Meta
}

// renderRegistry is the per-render table of shared state computations, keyed
// by correlation key. Sibling widget instances with identical props share a
// single computation through it. A registry lives for exactly one call to
// RenderToHTML and is never persisted.
type renderRegistry struct {
	mu        sync.Mutex
	streams   map[string]*stream.Property[widgetData]
	order     []string
	err       error
	devChecks bool

	// Metadata accumulation happens only on the final render pass, once all
	// computations have resolved.
	collectMeta bool
	meta        map[string]metaEntry
}

type metaEntry struct {
	value any
	depth int
}

func newRenderRegistry(devChecks bool) *renderRegistry {
	return &renderRegistry{
		streams:   make(map[string]*stream.Property[widgetData]),
		meta:      make(map[string]metaEntry),
		devChecks: devChecks,
	}
}

// getStream returns the shared computation for key, if one is registered.
func (r *renderRegistry) getStream(key string) *stream.Property[widgetData] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[key]
}

// registerStream shares a computation under key. When the widget carries a
// server-side deadline, the stored stream is raced against it; the timeout
// stops the wait, not the computation. Returns the stream that subsequent
// readers of the key will observe.
func (r *renderRegistry) registerStream(key string, p *stream.Property[widgetData], timeout time.Duration, hasTimeout bool) *stream.Property[widgetData] {
	if hasTimeout {
		p = raceTimeout(p, timeout)
	}
	r.mu.Lock()
	r.streams[key] = p
	r.order = append(r.order, key)
	r.mu.Unlock()
	return p
}

// reportError records an error surfaced before a computation produced its
// first value. Only the first error is kept; it aborts the whole render.
func (r *renderRegistry) reportError(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

func (r *renderRegistry) firstError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// unresolved returns, in registration order, the keys whose computations
// have neither produced a value nor failed yet.
func (r *renderRegistry) unresolved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, key := range r.order {
		p := r.streams[key]
		if _, ok := p.TryValue(); ok {
			continue
		}
		if p.Err() != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// wait blocks until the computation for key resolves or fails.
func (r *renderRegistry) wait(key string) error {
	p := r.getStream(key)
	if p == nil {
		return nil
	}
	_, err := stream.WaitFirst(p, -1, nil)
	return err
}

// hydrationByKey collects the dehydrated snapshot of every resolved
// computation, forming the correlation-keyed part of the payload store.
func (r *renderRegistry) hydrationByKey() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.streams))
	for key, p := range r.streams {
		if data, ok := p.TryValue(); ok {
			out[key] = data.hydration
		}
	}
	return out
}

// accumulateMeta merges a widget's metadata into the render's accumulated
// set. For a conflicting key, a later sibling at the same nesting depth
// overwrites, but a descendant never overwrites an ancestor: the ancestor's
// metadata closes over a snapshot taken before its descendants execute.
func (r *renderRegistry) accumulateMeta(m Meta, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.collectMeta {
		return
	}
	for k, v := range m {
		if existing, ok := r.meta[k]; ok && existing.depth < depth {
			continue
		}
		r.meta[k] = metaEntry{value: v, depth: depth}
	}
}

// beginMetaCollection enables metadata accumulation for the final render
// pass. Earlier walk passes discard metadata since not every widget renders.
func (r *renderRegistry) beginMetaCollection() {
	r.mu.Lock()
	r.collectMeta = true
	r.mu.Unlock()
}

func (r *renderRegistry) mergedMeta() Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.meta) == 0 {
		return nil
	}
	out := make(Meta, len(r.meta))
	for k, e := range r.meta {
		out[k] = e.value
	}
	return out
}

// raceTimeout derives a stream that mirrors src but fails with ErrTimeout if
// no value arrives within d. The underlying computation is not cancelled.
func raceTimeout(src *stream.Property[widgetData], d time.Duration) *stream.Property[widgetData] {
	bus := stream.NewBus[widgetData]()
	var mu sync.Mutex
	var timer *time.Timer
	stop := func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}
	src.Subscribe(func(ev stream.Event[widgetData]) {
		switch ev.Kind {
		case stream.KindValue:
			stop()
			bus.Push(ev.Value)
		case stream.KindError:
			stop()
			bus.Error(ev.Err)
		case stream.KindEnd:
			bus.End()
		}
	})
	// A synchronously resolved computation never races the clock, even with
	// a zero deadline.
	if _, ok := bus.Property().TryValue(); !ok && bus.Property().Err() == nil {
		mu.Lock()
		timer = time.AfterFunc(d, func() {
			bus.Error(ErrTimeout)
		})
		mu.Unlock()
	}
	return bus.Property()
}

// Context plumbing for the server render pass.

type registryContextKey struct{}
type depthContextKey struct{}

func withRegistry(ctx context.Context, r *renderRegistry) context.Context {
	return context.WithValue(ctx, registryContextKey{}, r)
}

func registryFrom(ctx context.Context) *renderRegistry {
	r, _ := ctx.Value(registryContextKey{}).(*renderRegistry)
	return r
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthContextKey{}, depth)
}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthContextKey{}).(int)
	return d
}
