// Package stream provides a small push-based reactive primitive used to model
// widget state over time.
//
// A Property is a hot stream of values with current-value replay: a new
// subscriber synchronously receives the most recent value (if any) before any
// subsequent values. This synchronous-if-possible first-value behavior is what
// server rendering relies on to extract state without blocking.
//
// Properties carry three kinds of events: values, a terminal error, and an
// end-of-stream marker. Terminal errors and ends are latched and replayed to
// late subscribers, so a single-shot computation observed after the fact still
// reports its outcome.
//
// Delivery is cooperative: events are dispatched in push order, outside the
// property's lock, so producers may push from goroutines.
package stream

import (
	"errors"
	"sync"
	"time"
)

// Kind discriminates the events a Property emits.
type Kind int

const (
	// KindValue is a value event.
	KindValue Kind = iota
	// KindError is a terminal error event.
	KindError
	// KindEnd marks the end of the stream.
	KindEnd
)

// Event is a single occurrence on a Property.
type Event[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// Subscriber receives events from a Property.
type Subscriber[T any] func(Event[T])

// Unsubscribe releases a subscription. Safe to call more than once.
type Unsubscribe func()

// ErrNoValue is reported when a stream ends without ever producing a value.
var ErrNoValue = errors.New("stream: ended without producing a value")

// Property is a push stream with current-value replay.
type Property[T any] struct {
	mu      sync.Mutex
	subs    map[int]Subscriber[T]
	nextID  int
	has     bool
	current T
	err     error
	ended   bool
}

func newProperty[T any]() *Property[T] {
	return &Property[T]{subs: make(map[int]Subscriber[T])}
}

// Subscribe attaches fn to the property. The current value (if any) and any
// latched terminal event are delivered synchronously before Subscribe returns.
func (p *Property[T]) Subscribe(fn Subscriber[T]) Unsubscribe {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	replay := make([]Event[T], 0, 2)
	if p.has {
		replay = append(replay, Event[T]{Kind: KindValue, Value: p.current})
	}
	switch {
	case p.err != nil:
		replay = append(replay, Event[T]{Kind: KindError, Err: p.err})
	case p.ended:
		replay = append(replay, Event[T]{Kind: KindEnd})
	default:
		p.subs[id] = fn
	}
	p.mu.Unlock()

	for _, ev := range replay {
		fn(ev)
	}

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// OnValue subscribes to value events only.
func (p *Property[T]) OnValue(fn func(T)) Unsubscribe {
	return p.Subscribe(func(ev Event[T]) {
		if ev.Kind == KindValue {
			fn(ev.Value)
		}
	})
}

// TryValue returns the property's current value, if it has one.
func (p *Property[T]) TryValue() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.has
}

// Err returns the property's latched terminal error, if any.
func (p *Property[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Property[T]) snapshot() []Subscriber[T] {
	out := make([]Subscriber[T], 0, len(p.subs))
	for _, fn := range p.subs {
		out = append(out, fn)
	}
	return out
}

func (p *Property[T]) push(v T) {
	p.mu.Lock()
	if p.ended || p.err != nil {
		p.mu.Unlock()
		return
	}
	p.has = true
	p.current = v
	subs := p.snapshot()
	p.mu.Unlock()
	for _, fn := range subs {
		fn(Event[T]{Kind: KindValue, Value: v})
	}
}

func (p *Property[T]) fail(err error) {
	p.mu.Lock()
	if p.ended || p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	subs := p.snapshot()
	p.subs = make(map[int]Subscriber[T])
	p.mu.Unlock()
	for _, fn := range subs {
		fn(Event[T]{Kind: KindError, Err: err})
	}
}

func (p *Property[T]) end() {
	p.mu.Lock()
	if p.ended || p.err != nil {
		p.mu.Unlock()
		return
	}
	p.ended = true
	subs := p.snapshot()
	p.subs = make(map[int]Subscriber[T])
	p.mu.Unlock()
	for _, fn := range subs {
		fn(Event[T]{Kind: KindEnd})
	}
}

// Bus is a manually driven Property source.
type Bus[T any] struct {
	p *Property[T]
}

// NewBus creates a Bus with no initial value.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{p: newProperty[T]()}
}

// Push emits a value. No-op after the bus has errored or ended.
func (b *Bus[T]) Push(v T) { b.p.push(v) }

// Error terminates the bus with err.
func (b *Bus[T]) Error(err error) { b.p.fail(err) }

// End terminates the bus normally.
func (b *Bus[T]) End() { b.p.end() }

// Property returns the bus's read side.
func (b *Bus[T]) Property() *Property[T] { return b.p }

// Constant returns a property holding a single value, already ended.
func Constant[T any](v T) *Property[T] {
	p := newProperty[T]()
	p.has = true
	p.current = v
	p.ended = true
	return p
}

// Never returns a property that produces no values and is already ended.
func Never[T any]() *Property[T] {
	p := newProperty[T]()
	p.ended = true
	return p
}

// Failed returns a property latched with a terminal error.
func Failed[T any](err error) *Property[T] {
	p := newProperty[T]()
	p.err = err
	return p
}

// Map derives a property by transforming each value of src.
func Map[T, U any](src *Property[T], fn func(T) U) *Property[U] {
	out := newProperty[U]()
	src.Subscribe(func(ev Event[T]) {
		switch ev.Kind {
		case KindValue:
			out.push(fn(ev.Value))
		case KindError:
			out.fail(ev.Err)
		case KindEnd:
			out.end()
		}
	})
	return out
}

// First derives a property that takes src's first value and then ends.
// An end without a value ends the output; errors pass through.
func First[T any](src *Property[T]) *Property[T] {
	out := newProperty[T]()
	done := false
	src.Subscribe(func(ev Event[T]) {
		if done {
			return
		}
		switch ev.Kind {
		case KindValue:
			done = true
			out.push(ev.Value)
			out.end()
		case KindError:
			done = true
			out.fail(ev.Err)
		case KindEnd:
			done = true
			out.end()
		}
	})
	return out
}

// Concat emits all events of a, then continues with b once a ends.
func Concat[T any](a, b *Property[T]) *Property[T] {
	out := newProperty[T]()
	a.Subscribe(func(ev Event[T]) {
		switch ev.Kind {
		case KindValue:
			out.push(ev.Value)
		case KindError:
			out.fail(ev.Err)
		case KindEnd:
			b.Subscribe(func(ev Event[T]) {
				switch ev.Kind {
				case KindValue:
					out.push(ev.Value)
				case KindError:
					out.fail(ev.Err)
				case KindEnd:
					out.end()
				}
			})
		}
	})
	return out
}

// Skip derives a property that drops src's first n values.
func Skip[T any](src *Property[T], n int) *Property[T] {
	out := newProperty[T]()
	seen := 0
	src.Subscribe(func(ev Event[T]) {
		switch ev.Kind {
		case KindValue:
			if seen < n {
				seen++
				return
			}
			out.push(ev.Value)
		case KindError:
			out.fail(ev.Err)
		case KindEnd:
			out.end()
		}
	})
	return out
}

// SkipDuplicates derives a property that suppresses consecutive values for
// which eq reports equality. A nil eq passes everything through.
func SkipDuplicates[T any](src *Property[T], eq func(a, b T) bool) *Property[T] {
	if eq == nil {
		return Map(src, func(v T) T { return v })
	}
	out := newProperty[T]()
	var prev T
	havePrev := false
	src.Subscribe(func(ev Event[T]) {
		switch ev.Kind {
		case KindValue:
			if havePrev && eq(prev, ev.Value) {
				return
			}
			prev = ev.Value
			havePrev = true
			out.push(ev.Value)
		case KindError:
			out.fail(ev.Err)
		case KindEnd:
			out.end()
		}
	})
	return out
}

// CombineLatest2 derives a property from the latest values of a and b,
// emitting once both have produced at least one value and again on every
// subsequent value from either. It ends when both inputs have ended and
// fails as soon as either input fails.
func CombineLatest2[A, B, T any](a *Property[A], b *Property[B], fn func(A, B) T) *Property[T] {
	out := newProperty[T]()
	var (
		mu             sync.Mutex
		va             A
		vb             B
		hasA, hasB     bool
		endedA, endedB bool
	)
	emit := func() {
		mu.Lock()
		ok := hasA && hasB
		x, y := va, vb
		mu.Unlock()
		if ok {
			out.push(fn(x, y))
		}
	}
	maybeEnd := func() {
		mu.Lock()
		done := endedA && endedB
		mu.Unlock()
		if done {
			out.end()
		}
	}
	a.Subscribe(func(ev Event[A]) {
		switch ev.Kind {
		case KindValue:
			mu.Lock()
			va, hasA = ev.Value, true
			mu.Unlock()
			emit()
		case KindError:
			out.fail(ev.Err)
		case KindEnd:
			mu.Lock()
			endedA = true
			mu.Unlock()
			maybeEnd()
		}
	})
	b.Subscribe(func(ev Event[B]) {
		switch ev.Kind {
		case KindValue:
			mu.Lock()
			vb, hasB = ev.Value, true
			mu.Unlock()
			emit()
		case KindError:
			out.fail(ev.Err)
		case KindEnd:
			mu.Lock()
			endedB = true
			mu.Unlock()
			maybeEnd()
		}
	})
	return out
}

// WaitFirst blocks until src produces its first value, errors, or ends.
// A non-negative timeout bounds the wait; when it elapses first, timeoutErr
// is returned. A negative timeout waits indefinitely.
func WaitFirst[T any](src *Property[T], timeout time.Duration, timeoutErr error) (T, error) {
	var zero T

	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)
	done := false

	unsub := src.Subscribe(func(ev Event[T]) {
		if done {
			return
		}
		switch ev.Kind {
		case KindValue:
			done = true
			ch <- outcome{value: ev.Value}
		case KindError:
			done = true
			ch <- outcome{err: ev.Err}
		case KindEnd:
			done = true
			ch <- outcome{err: ErrNoValue}
		}
	})
	defer unsub()

	// The subscription may have resolved synchronously via replay.
	select {
	case o := <-ch:
		return o.value, o.err
	default:
	}

	if timeout < 0 {
		o := <-ch
		return o.value, o.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-ch:
		return o.value, o.err
	case <-timer.C:
		return zero, timeoutErr
	}
}
