package widgets

import (
	"context"
	"strings"
	"sync"

	"github.com/a-h/templ"
)

// In-memory document and engine fakes for exercising hydration and live
// updates without a browser. They implement the Document and Engine
// contracts and record every mount, hydration and update per element so
// tests can assert on lifecycle counts.

// TestElement is an in-memory mount point.
type TestElement struct {
	id string

	mu   sync.Mutex
	html string
}

// ID returns the element's id.
func (e *TestElement) ID() string { return e.id }

// HTML returns the markup most recently rendered into the element.
func (e *TestElement) HTML() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.html
}

// SetHTML replaces the element's markup, e.g. with server-rendered output.
func (e *TestElement) SetHTML(html string) {
	e.mu.Lock()
	e.html = html
	e.mu.Unlock()
}

// TestDocument is an in-memory Document.
type TestDocument struct {
	mu       sync.Mutex
	elements map[string]*TestElement
}

// NewTestDocument creates an empty document.
func NewTestDocument() *TestDocument {
	return &TestDocument{elements: make(map[string]*TestElement)}
}

// Add creates (or returns) the element with the given id.
func (d *TestDocument) Add(id string) *TestElement {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[id]; ok {
		return el
	}
	el := &TestElement{id: id}
	d.elements[id] = el
	return el
}

// ElementByID implements Document.
func (d *TestDocument) ElementByID(id string) (Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.elements[id]
	return el, ok
}

// TestEngine is an in-memory Engine. It renders components synchronously
// into TestElements and counts lifecycle events. Setting MountErr makes
// Mount and Hydrate fail with it, simulating a mount-primitive exception.
type TestEngine struct {
	// MountErr, when non-nil, is returned by Mount and Hydrate.
	MountErr error

	mu         sync.Mutex
	mounts     map[string]int
	hydrations map[string]int
	updates    map[string]int
}

// NewTestEngine creates a TestEngine.
func NewTestEngine() *TestEngine {
	return &TestEngine{
		mounts:     make(map[string]int),
		hydrations: make(map[string]int),
		updates:    make(map[string]int),
	}
}

func (e *TestEngine) render(ctx context.Context, el Element, c templ.Component) error {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return err
	}
	if te, ok := el.(*TestElement); ok {
		te.SetHTML(sb.String())
	}
	return nil
}

// Mount implements Engine.
func (e *TestEngine) Mount(ctx context.Context, el Element, c templ.Component) error {
	if e.MountErr != nil {
		return e.MountErr
	}
	if err := e.render(ctx, el, c); err != nil {
		return err
	}
	e.mu.Lock()
	e.mounts[el.ID()]++
	e.mu.Unlock()
	return nil
}

// Hydrate implements Engine. The hydration callback fires synchronously
// after the component has rendered against the element.
func (e *TestEngine) Hydrate(ctx context.Context, el Element, c templ.Component, onHydrated func()) error {
	if e.MountErr != nil {
		return e.MountErr
	}
	if err := e.render(ctx, el, c); err != nil {
		return err
	}
	e.mu.Lock()
	e.hydrations[el.ID()]++
	e.mu.Unlock()
	if onHydrated != nil {
		onHydrated()
	}
	return nil
}

// Update implements Engine.
func (e *TestEngine) Update(ctx context.Context, el Element, c templ.Component) error {
	if err := e.render(ctx, el, c); err != nil {
		return err
	}
	e.mu.Lock()
	e.updates[el.ID()]++
	e.mu.Unlock()
	return nil
}

// Mounts returns how many times the element was mounted from scratch.
func (e *TestEngine) Mounts(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mounts[id]
}

// Hydrations returns how many times the element was hydrated.
func (e *TestEngine) Hydrations(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hydrations[id]
}

// Updates returns how many state-driven re-renders the element received.
func (e *TestEngine) Updates(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updates[id]
}
