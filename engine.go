package widgets

import (
	"context"
	"sync"

	"github.com/a-h/templ"
)

// Element is a mount point in the host document.
type Element interface {
	ID() string
}

// Document locates mount points by element id. The hydration entry point uses
// it to find the server-rendered markup each stored instance belongs to.
type Document interface {
	ElementByID(id string) (Element, bool)
}

// Engine is the contract with the host rendering engine. The widget layer
// never manipulates the document directly; it hands templ components to the
// engine and lets the engine own mounting and re-rendering.
//
// Hydrate attaches a component to existing server-rendered markup and must
// invoke onHydrated exactly once when the attachment completes; the widget
// layer uses that callback to end the hydrating phase for the mount point.
// Mount renders a component into an element from scratch, and Update
// re-renders a previously mounted component in place.
type Engine interface {
	Mount(ctx context.Context, el Element, c templ.Component) error
	Hydrate(ctx context.Context, el Element, c templ.Component, onHydrated func()) error
	Update(ctx context.Context, el Element, c templ.Component) error
}

// Ref is a forwarded reference to a widget's mount point. Replacing the
// element a Ref points at is a pure bookkeeping operation: it never causes
// the widget's component to re-render or remount.
type Ref struct {
	mu sync.Mutex
	el Element
}

// NewRef creates an empty Ref.
func NewRef() *Ref {
	return &Ref{}
}

// Current returns the element the ref points at, or nil.
func (r *Ref) Current() Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.el
}

func (r *Ref) set(el Element) {
	r.mu.Lock()
	r.el = el
	r.mu.Unlock()
}
