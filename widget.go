package widgets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/pthm/widgets/lib/stream"
)

// StateFunc creates a widget's state stream from its live props stream.
//
// hydrated carries the hydrated baseline when the widget was reconstructed
// from stored server state: a single value holding the first props and the
// state derived from them. A state function that honors the baseline avoids
// recomputing the prefix the server already computed. During server rendering
// and pure client rendering, hydrated never produces a value.
type StateFunc[P, S any] func(props *stream.Property[P], hydrated *stream.Property[Hydrated[P, S]]) *stream.Property[S]

// Hydrated is the baseline fed to a StateFunc after hydration.
type Hydrated[P, S any] struct {
	Props P
	State S
}

// Options configures a widget definition.
//
// P is the props type and must round-trip through JSON; S is the state type;
// H is the minimized hydration snapshot, the serializable form state travels
// to the browser in.
type Options[P, S, H any] struct {
	// Name is the widget's unique name. Required.
	Name string

	// Channel is the state channel the widget publishes into. One is created
	// from Name when nil; supply a shared channel to let components outside
	// the widget consume its state.
	Channel *Channel[S]

	// Component produces the widget's markup for the given props. Required.
	Component func(props P) templ.Component

	// State creates the widget's state stream. Required.
	State StateFunc[P, S]

	// Dehydrate converts state to its minimized serializable snapshot.
	// Required.
	Dehydrate func(state S) H

	// Hydrate reconstructs state from a stored snapshot and the props the
	// instance mounted with. Must be pure. Required.
	Hydrate func(hydration H, props P) S

	// Meta maps props and state to SSR metadata. Optional.
	Meta func(props P, state S) Meta
}

// Widget is an isomorphic widget definition: a component bound to a
// declarative, phase-aware state source. Definitions are immutable after
// construction and safe to share; per-mount behavior lives on Instance.
type Widget[P, S, H any] struct {
	name       string
	channel    *Channel[S]
	component  func(props P) templ.Component
	state      StateFunc[P, S]
	dehydrate  func(S) H
	hydrate    func(H, P) S
	meta       func(P, S) Meta
	timeout    time.Duration
	hasTimeout bool
}

// New creates a widget definition. Panics if a required option is missing,
// since a misconfigured widget is a programming error caught at startup.
func New[P, S, H any](opts Options[P, S, H]) *Widget[P, S, H] {
	if opts.Name == "" {
		panic("widgets: widget name is required")
	}
	if opts.Component == nil {
		panic(fmt.Sprintf("widgets: widget %q has no component", opts.Name))
	}
	if opts.State == nil {
		panic(fmt.Sprintf("widgets: widget %q has no state function", opts.Name))
	}
	if opts.Dehydrate == nil || opts.Hydrate == nil {
		panic(fmt.Sprintf("widgets: widget %q needs both dehydrate and hydrate", opts.Name))
	}
	ch := opts.Channel
	if ch == nil {
		ch = NewChannel[S](opts.Name)
	}
	return &Widget[P, S, H]{
		name:      opts.Name,
		channel:   ch,
		component: opts.Component,
		state:     opts.State,
		dehydrate: opts.Dehydrate,
		hydrate:   opts.Hydrate,
		meta:      opts.Meta,
	}
}

// WithTimeout sets the widget's server-side deadline for producing a first
// state value. The deadline bounds how long a render waits; it does not
// cancel the underlying computation. A zero deadline fails any state stream
// that doesn't resolve synchronously.
func (w *Widget[P, S, H]) WithTimeout(d time.Duration) *Widget[P, S, H] {
	w.timeout = d
	w.hasTimeout = true
	return w
}

// Name returns the widget's name.
func (w *Widget[P, S, H]) Name() string { return w.name }

// Channel returns the widget's state channel.
func (w *Widget[P, S, H]) Channel() *Channel[S] { return w.channel }

// Instance binds props to the widget, producing a mountable element.
// One instance corresponds to one mounted occurrence of the widget.
func (w *Widget[P, S, H]) Instance(props P) *Instance[P, S, H] {
	bus := stream.NewBus[P]()
	inst := &Instance[P, S, H]{
		w:        w,
		props:    props,
		propsBus: bus,
	}
	bus.Push(props)
	return inst
}

// widgetElement is the capability check the entry points use: a component is
// a widget if and only if it exposes its descriptor this way. There is no
// property sniffing; anything else is an opaque leaf.
type widgetElement interface {
	templ.Component
	widgetName() string
	widgetProps() any
}

// Instance is one mounted occurrence of a widget. It implements
// templ.Component; how it obtains state when rendered depends on the phase
// installed on the render context plus its own sticky hydration flag.
type Instance[P, S, H any] struct {
	w *Widget[P, S, H]

	mu         sync.Mutex
	props      P
	propsBus   *stream.Bus[P]
	state      *stream.Property[S]
	isHydrated bool
	el         Element
	ref        *Ref
	unsub      stream.Unsubscribe
}

func (inst *Instance[P, S, H]) widgetName() string { return inst.w.name }
func (inst *Instance[P, S, H]) widgetProps() any   { return inst.currentProps() }

func (inst *Instance[P, S, H]) currentProps() P {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.props
}

// SetProps pushes new props into the instance. State derived from props
// updates through the props stream; the markup re-renders through the
// engine when the state stream produces a non-duplicate value.
func (inst *Instance[P, S, H]) SetProps(props P) {
	inst.mu.Lock()
	inst.props = props
	inst.mu.Unlock()
	inst.propsBus.Push(props)
}

// SetRef forwards a new ref to the instance's mount point. A ref change
// alone never re-renders or remounts the wrapped component.
func (inst *Instance[P, S, H]) SetRef(ref *Ref) {
	inst.mu.Lock()
	inst.ref = ref
	el := inst.el
	inst.mu.Unlock()
	if ref != nil {
		ref.set(el)
	}
}

// Close releases the instance's engine-update subscription. Call when the
// host unmounts the widget.
func (inst *Instance[P, S, H]) Close() {
	inst.mu.Lock()
	unsub := inst.unsub
	inst.unsub = nil
	inst.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Render drives the widget's state machine for one render call. The state is
// re-derived every call from the ambient phase; only the hydration flag is
// sticky — once an instance has hydrated it renders live from then on, even
// while the ambient phase still reports hydrating.
func (inst *Instance[P, S, H]) Render(ctx context.Context, out io.Writer) error {
	switch CurrentPhase(ctx) {
	case PhaseServer:
		return inst.renderServer(ctx, out)
	case PhaseHydrating:
		inst.mu.Lock()
		first := !inst.isHydrated
		if first {
			inst.isHydrated = true
		}
		inst.mu.Unlock()
		if first {
			return inst.renderHydrating(ctx, out)
		}
		return inst.renderLive(ctx, out)
	default:
		return inst.renderLive(ctx, out)
	}
}

func (inst *Instance[P, S, H]) renderServer(ctx context.Context, out io.Writer) error {
	reg := registryFrom(ctx)
	if reg == nil {
		return fmt.Errorf("widgets: widget %q rendered in server phase outside RenderToHTML", inst.w.name)
	}
	if reg.devChecks {
		inst.checkSerializable()
	}

	props := inst.currentProps()
	key := DeriveKey(inst.w.name, props)

	entry := reg.getStream(key)
	if entry == nil {
		state := inst.w.state(inst.propsBus.Property(), stream.Never[Hydrated[P, S]]())
		data := stream.First(stream.CombineLatest2(inst.propsBus.Property(), state, func(p P, s S) widgetData {
			d := widgetData{state: s, hydration: inst.w.dehydrate(s)}
			if inst.w.meta != nil {
				d.meta = inst.w.meta(p, s)
			}
			return d
		}))
		entry = reg.registerStream(key, data, inst.w.timeout, inst.w.hasTimeout)
	}

	if err := entry.Err(); err != nil {
		reg.reportError(err)
		return nil
	}

	data, ok := entry.TryValue()
	if !ok {
		// No immediate value: render nothing for this subtree on this pass.
		// The entry point waits on the pending computation and re-walks.
		return nil
	}

	st, ok := data.state.(S)
	if !ok {
		return fmt.Errorf("widgets: widget %q received state of unexpected type %T", inst.w.name, data.state)
	}
	if data.meta != nil {
		reg.accumulateMeta(data.meta, depthFrom(ctx))
	}

	// Descendants see a fixed snapshot of the extracted value.
	childCtx := withChannelValue(ctx, inst.w.channel, channelValue[S]{
		state: stream.Constant(st),
		name:  inst.w.name,
	})
	childCtx = withDepth(childCtx, depthFrom(ctx)+1)
	return inst.w.component(props).Render(childCtx, out)
}

func (inst *Instance[P, S, H]) renderHydrating(ctx context.Context, out io.Writer) error {
	acc := hydrationFrom(ctx)
	if acc == nil {
		return fmt.Errorf("widgets: widget %q rendered in hydrating phase without hydration data in scope", inst.w.name)
	}

	props := inst.currentProps()
	raw, elementID, ok := acc(inst.w.name, props)

	inst.mu.Lock()
	if inst.state == nil {
		if ok {
			h, err := convert[H](raw)
			if err != nil {
				logger.Error("widgets: stored hydration data doesn't match the widget's snapshot type; computing state from scratch",
					zap.String("widget", inst.w.name), zap.Error(err))
				inst.state = inst.w.state(inst.propsBus.Property(), stream.Never[Hydrated[P, S]]())
			} else {
				st := inst.w.hydrate(h, props)
				rest := inst.w.state(
					stream.Skip(inst.propsBus.Property(), 1),
					stream.Constant(Hydrated[P, S]{Props: props, State: st}),
				)
				inst.state = stream.Concat(stream.Constant(st), rest)
			}
		} else {
			// Hydration data is absent, probably a serialization mismatch or
			// correlation-key drift. Fall back to live computation.
			inst.state = inst.w.state(inst.propsBus.Property(), stream.Never[Hydrated[P, S]]())
		}
	}
	state := inst.state
	inst.mu.Unlock()

	childCtx := withChannelValue(ctx, inst.w.channel, channelValue[S]{
		state:     state,
		name:      inst.w.name,
		elementID: elementID,
	})
	return inst.w.component(props).Render(childCtx, out)
}

func (inst *Instance[P, S, H]) renderLive(ctx context.Context, out io.Writer) error {
	inst.mu.Lock()
	if inst.state == nil {
		inst.state = inst.w.state(inst.propsBus.Property(), stream.Never[Hydrated[P, S]]())
	}
	state := inst.state
	props := inst.props
	inst.mu.Unlock()

	childCtx := withChannelValue(ctx, inst.w.channel, channelValue[S]{
		state: state,
		name:  inst.w.name,
	})
	return inst.w.component(props).Render(childCtx, out)
}

// attach records the instance's mount point and subscribes engine updates to
// the state stream, skipping the value that produced the mounted markup.
func (inst *Instance[P, S, H]) attach(ctx context.Context, engine Engine, el Element) {
	inst.mu.Lock()
	inst.el = el
	if inst.ref != nil {
		inst.ref.set(el)
	}
	state := inst.state
	inst.mu.Unlock()
	if state == nil {
		return
	}

	liveCtx := withPhase(ctx, func() Phase { return PhaseLive })
	// Skip the value that produced the mounted markup, if there was one; a
	// still-pending computation re-renders on its first value.
	src := state
	if _, ok := state.TryValue(); ok {
		src = stream.Skip(state, 1)
	}
	inst.mu.Lock()
	inst.unsub = src.OnValue(func(S) {
		if err := engine.Update(liveCtx, el, inst); err != nil {
			logger.Error("widgets: engine update failed",
				zap.String("widget", inst.w.name), zap.String("mountPoint", el.ID()), zap.Error(err))
		}
	})
	inst.mu.Unlock()
}

// checkSerializable verifies, at development time, that props survive a JSON
// round trip. A mismatch means hydration in the browser is undefined.
func (inst *Instance[P, S, H]) checkSerializable() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("widgets: props serializability check could not compare props",
				zap.String("widget", inst.w.name), zap.Any("reason", r))
		}
	}()

	props := inst.currentProps()
	raw, err := json.Marshal(props)
	if err != nil {
		logger.Error(fmt.Sprintf("widgets: widget %q won't correctly hydrate because its props aren't serializable; its browser behavior is undefined", inst.w.name),
			zap.Error(err))
		return
	}
	var roundTripped P
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		logger.Error(fmt.Sprintf("widgets: widget %q won't correctly hydrate because its props aren't serializable; its browser behavior is undefined", inst.w.name),
			zap.Error(err))
		return
	}
	if diff := cmp.Diff(props, roundTripped); diff != "" {
		logger.Error(fmt.Sprintf("widgets: widget %q won't correctly hydrate because its props don't survive serialization; its browser behavior is undefined", inst.w.name),
			zap.String("diff", diff))
	}
}
