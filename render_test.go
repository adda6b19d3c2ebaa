package widgets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pthm/widgets/lib/stream"
)

var mountPointRe = regexp.MustCompile(`^<div id="([0-9a-f-]{36})"`)

func TestRenderNonWidgetPassthrough(t *testing.T) {
	hello := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<p>hello</p>")
		return err
	})

	html, err := RenderToHTML(context.Background(), hello)
	if err != nil {
		t.Fatal(err)
	}
	if html != "<div><p>hello</p></div>" {
		t.Errorf("html = %q", html)
	}

	html, err = RenderToHTML(context.Background(), hello, WithClassName("plain"))
	if err != nil {
		t.Fatal(err)
	}
	if html != `<div class="plain"><p>hello</p></div>` {
		t.Errorf("html = %q", html)
	}
}

func TestRenderSynchronousState(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5))

	html, err := RenderToHTML(context.Background(), w.Instance(simpleProps{Power: 4}))
	require.NoError(t, err)

	require.Contains(t, html, "<section>625</section>")
	require.Regexp(t, mountPointRe, html)
	require.True(t, strings.HasSuffix(html, ");</script>"))

	require.Contains(t, html, `"props":{"power":4}`)
	key := DeriveKey("simple", simpleProps{Power: 4})
	require.Contains(t, html, fmt.Sprintf("%q:5", key))

	require.Equal(t, 1, fetchCount, "one shared computation per correlation key")
}

func TestRenderAsynchronousState(t *testing.T) {
	fetchCount := 0
	base := stream.NewBus[int]()
	w := newSimpleWidget(func() *stream.Property[int] {
		fetchCount++
		return base.Property()
	})

	go func() {
		time.Sleep(5 * time.Millisecond)
		base.Push(5)
	}()

	html, err := RenderToHTML(context.Background(), w.Instance(simpleProps{Power: 4}))
	require.NoError(t, err)
	require.Contains(t, html, "<section>625</section>")
	require.Equal(t, 1, fetchCount, "the retry pass must reuse the pending computation")
}

func TestRenderSharesComputationAcrossSiblings(t *testing.T) {
	fetchCount := 0
	simple := newSimpleWidget(fetchConst(&fetchCount, 5))
	root := newContainerWidget("pair", nil, func() []templ.Component {
		return []templ.Component{
			simple.Instance(simpleProps{Power: 4}),
			simple.Instance(simpleProps{Power: 4}),
		}
	})

	html, err := RenderToHTML(context.Background(), root.Instance(struct{}{}))
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(html, "<section>625</section>"))
	require.Equal(t, 1, fetchCount, "identical siblings must share one computation")

	key := DeriveKey("simple", simpleProps{Power: 4})
	require.Contains(t, html, fmt.Sprintf("%q:5", key))
}

func TestRenderDistinctPropsComputeSeparately(t *testing.T) {
	fetchCount := 0
	simple := newSimpleWidget(fetchConst(&fetchCount, 5))
	root := newContainerWidget("pair", nil, func() []templ.Component {
		return []templ.Component{
			simple.Instance(simpleProps{Power: 4}),
			simple.Instance(simpleProps{Power: 2}),
		}
	})

	html, err := RenderToHTML(context.Background(), root.Instance(struct{}{}))
	require.NoError(t, err)
	require.Contains(t, html, "<section>625</section>")
	require.Contains(t, html, "<section>25</section>")
	require.Equal(t, 2, fetchCount)
}

func TestRenderTimeout(t *testing.T) {
	never := stream.NewBus[int]()
	w := newSimpleWidget(func() *stream.Property[int] {
		return never.Property()
	}).WithTimeout(0)

	_, err := RenderToHTML(context.Background(), w.Instance(simpleProps{Power: 4}))
	require.Error(t, err)
	require.True(t, IsTimeout(err), "err = %v", err)
}

func TestRenderSynchronousStateBeatsZeroTimeout(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5)).WithTimeout(0)

	html, err := RenderToHTML(context.Background(), w.Instance(simpleProps{Power: 4}))
	require.NoError(t, err)
	require.Contains(t, html, "<section>625</section>")
}

func TestRenderComputationFailure(t *testing.T) {
	boom := errors.New("boom")
	w := newSimpleWidget(func() *stream.Property[int] {
		return stream.Failed[int](boom)
	})

	_, err := RenderToHTML(context.Background(), w.Instance(simpleProps{Power: 4}))
	require.ErrorIs(t, err, boom)
}

func TestRenderAccumulatesMeta(t *testing.T) {
	fetchCount := 0
	simple := newSimpleWidget(fetchConst(&fetchCount, 5))
	childA := newContainerWidget("child-a", Meta{"cache": "child-a", "a": true}, func() []templ.Component { return nil })
	childB := newContainerWidget("child-b", Meta{"cache": "child-b", "b": true}, func() []templ.Component { return nil })
	root := newContainerWidget("page", Meta{"cache": "page"}, func() []templ.Component {
		return []templ.Component{
			simple.Instance(simpleProps{Power: 2}),
			childA.Instance(struct{}{}),
			childB.Instance(struct{}{}),
		}
	})

	var got Meta
	_, err := RenderToHTML(context.Background(), root.Instance(struct{}{}), WithMeta(func(m Meta) { got = m }))
	require.NoError(t, err)
	require.NotNil(t, got)

	// The root's value wins over its descendants; sibling contributions at
	// the same depth land last-one-wins in document order.
	require.Equal(t, "page", got["cache"])
	require.Equal(t, true, got["a"])
	require.Equal(t, true, got["b"])
}

func TestRenderSiblingMetaLastOneWins(t *testing.T) {
	childA := newContainerWidget("child-a", Meta{"variant": "a"}, func() []templ.Component { return nil })
	childB := newContainerWidget("child-b", Meta{"variant": "b"}, func() []templ.Component { return nil })
	root := newContainerWidget("page", nil, func() []templ.Component {
		return []templ.Component{childA.Instance(struct{}{}), childB.Instance(struct{}{})}
	})

	var got Meta
	_, err := RenderToHTML(context.Background(), root.Instance(struct{}{}), WithMeta(func(m Meta) { got = m }))
	require.NoError(t, err)
	require.Equal(t, "b", got["variant"])
}

func TestRenderWithClassName(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5))

	html, err := RenderToHTML(context.Background(), w.Instance(simpleProps{Power: 4}), WithClassName("hero"))
	require.NoError(t, err)
	require.Contains(t, html, ` class="hero"`)
}

func TestRenderWithCustomRenderer(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5))

	calls := 0
	custom := func(ctx context.Context, c templ.Component) (string, error) {
		calls++
		return renderString(ctx, c)
	}

	html, err := RenderToHTML(context.Background(), w.Instance(simpleProps{Power: 4}), WithRender(custom))
	require.NoError(t, err)
	require.Contains(t, html, "<section>625</section>")
	require.Equal(t, 1, calls, "the custom renderer runs on the final pass only")
}

// leakyProps marshal fine but lose Secret on the way back, so they can't
// hydrate faithfully.
type leakyProps struct {
	Label  string `json:"label"`
	Secret string `json:"-"`
}

func TestRenderDevChecksFlagLossyProps(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	w := New(Options[leakyProps, struct{}, struct{}]{
		Name: "leaky",
		Component: func(leakyProps) templ.Component {
			return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
				_, err := io.WriteString(out, "<i>ok</i>")
				return err
			})
		},
		State: func(props *stream.Property[leakyProps], _ *stream.Property[Hydrated[leakyProps, struct{}]]) *stream.Property[struct{}] {
			return stream.Map(props, func(leakyProps) struct{} { return struct{}{} })
		},
		Dehydrate: func(struct{}) struct{} { return struct{}{} },
		Hydrate:   func(struct{}, leakyProps) struct{} { return struct{}{} },
	})

	html, err := RenderToHTML(context.Background(), w.Instance(leakyProps{Label: "x", Secret: "s"}), WithDevChecks())
	require.NoError(t, err, "the check diagnoses, it doesn't fail the render")
	require.Contains(t, html, "<i>ok</i>")
	require.NotZero(t, logs.FilterMessageSnippet("don't survive serialization").Len())
}
