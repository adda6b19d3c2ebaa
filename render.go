package widgets

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/google/uuid"
)

type renderOptions struct {
	render    func(ctx context.Context, c templ.Component) (string, error)
	className string
	onMeta    func(Meta)
	devChecks bool
}

// RenderOption configures RenderToHTML.
type RenderOption func(*renderOptions)

// WithRender substitutes a custom markup renderer, for example one that
// collects style sheets while rendering.
func WithRender(fn func(ctx context.Context, c templ.Component) (string, error)) RenderOption {
	return func(o *renderOptions) { o.render = fn }
}

// WithClassName sets a class attribute on the wrapping mount point element.
func WithClassName(class string) RenderOption {
	return func(o *renderOptions) { o.className = class }
}

// WithMeta registers a callback that receives the render's accumulated SSR
// metadata, merged across all widgets per the registry's precedence rules.
func WithMeta(fn func(Meta)) RenderOption {
	return func(o *renderOptions) { o.onMeta = fn }
}

// WithDevChecks enables development-mode validation, currently the props
// serializability round-trip check.
func WithDevChecks() RenderOption {
	return func(o *renderOptions) { o.devChecks = true }
}

func renderString(ctx context.Context, c templ.Component) (string, error) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// RenderToHTML renders a widget element to HTML, driving every nested state
// computation to completion, and appends a script tag that stores props and
// minimized state for hydration in the browser.
//
// The render proceeds in passes. Each pass walks the tree in server phase;
// widgets whose state resolved synchronously render their subtree, the rest
// register a pending computation and render nothing. Between passes the
// entry point waits on every pending computation — resolving one may uncover
// deeper widgets on the next pass, so the pending set is recomputed until it
// is empty. The first computation error or deadline aborts the render.
//
// If the element is not a widget it is rendered as is, wrapped but with no
// hydration script.
func RenderToHTML(ctx context.Context, component templ.Component, opts ...RenderOption) (string, error) {
	o := &renderOptions{render: renderString}
	for _, opt := range opts {
		opt(o)
	}

	classAttr := ""
	if o.className != "" {
		classAttr = fmt.Sprintf(" class=%q", o.className)
	}

	element, ok := component.(widgetElement)
	if !ok {
		html, err := o.render(ctx, component)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("<div%s>%s</div>", classAttr, html), nil
	}

	reg := newRenderRegistry(o.devChecks)
	walkCtx := withRegistry(withPhase(ctx, func() Phase { return PhaseServer }), reg)

	for {
		if err := component.Render(walkCtx, io.Discard); err != nil {
			return "", err
		}
		if err := reg.firstError(); err != nil {
			return "", err
		}
		keys := reg.unresolved()
		if len(keys) == 0 {
			break
		}
		for _, key := range keys {
			if err := reg.wait(key); err != nil {
				return "", err
			}
		}
		if err := reg.firstError(); err != nil {
			return "", err
		}
	}

	// Everything has resolved; this pass renders markup and collects meta.
	reg.beginMetaCollection()
	html, err := o.render(walkCtx, component)
	if err != nil {
		return "", err
	}
	if err := reg.firstError(); err != nil {
		return "", err
	}
	if o.onMeta != nil {
		if m := reg.mergedMeta(); m != nil {
			o.onMeta(m)
		}
	}

	id := uuid.NewString()
	script, err := hydrationScript(element.widgetName(), id, element.widgetProps(), reg.hydrationByKey())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<div id=%q%s>%s</div>%s", id, classAttr, html, script), nil
}
