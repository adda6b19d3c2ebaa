package widgets

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/require"

	"github.com/pthm/widgets/lib/stream"
)

// Shared fixtures. The "simple" widget raises a fetched base value to the
// power given in its props, the pattern most tests exercise: props drive the
// state, the base value is the part worth snapshotting for hydration.

type simpleProps struct {
	Power int `json:"power"`
}

type simpleState struct {
	Base  int `json:"base"`
	Value int `json:"value"`
}

func raise(base, power int) int {
	v := 1
	for i := 0; i < power; i++ {
		v *= base
	}
	return v
}

func computeSimple(p simpleProps, base int) simpleState {
	return simpleState{Base: base, Value: raise(base, p.Power)}
}

func newSimpleWidget(fetch func() *stream.Property[int]) *Widget[simpleProps, simpleState, int] {
	ch := NewChannel[simpleState]("simple")
	return New(Options[simpleProps, simpleState, int]{
		Name:    "simple",
		Channel: ch,
		Component: func(simpleProps) templ.Component {
			return Inject(ch, func(s simpleState) templ.Component {
				return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
					_, err := fmt.Fprintf(w, "<section>%d</section>", s.Value)
					return err
				})
			})
		},
		State: func(props *stream.Property[simpleProps], hydrated *stream.Property[Hydrated[simpleProps, simpleState]]) *stream.Property[simpleState] {
			if baseline, ok := hydrated.TryValue(); ok {
				return stream.CombineLatest2(props, stream.Constant(baseline.State.Base), computeSimple)
			}
			return stream.CombineLatest2(props, fetch(), computeSimple)
		},
		Dehydrate: func(s simpleState) int { return s.Base },
		Hydrate:   func(base int, p simpleProps) simpleState { return computeSimple(p, base) },
	})
}

func fetchConst(count *int, base int) func() *stream.Property[int] {
	return func() *stream.Property[int] {
		*count++
		return stream.Constant(base)
	}
}

// newContainerWidget wraps arbitrary children in a widget with trivial state,
// optionally contributing metadata.
func newContainerWidget(name string, meta Meta, children func() []templ.Component) *Widget[struct{}, struct{}, struct{}] {
	return New(Options[struct{}, struct{}, struct{}]{
		Name: name,
		Component: func(struct{}) templ.Component {
			return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
				for _, c := range children() {
					if err := c.Render(ctx, w); err != nil {
						return err
					}
				}
				return nil
			})
		},
		State: func(props *stream.Property[struct{}], _ *stream.Property[Hydrated[struct{}, struct{}]]) *stream.Property[struct{}] {
			return stream.Map(props, func(struct{}) struct{} { return struct{}{} })
		},
		Dehydrate: func(struct{}) struct{} { return struct{}{} },
		Hydrate:   func(struct{}, struct{}) struct{} { return struct{}{} },
		Meta:      func(struct{}, struct{}) Meta { return meta },
	})
}

func TestNewPanicsWithoutRequiredOptions(t *testing.T) {
	component := func(simpleProps) templ.Component { return templ.NopComponent }
	state := func(props *stream.Property[simpleProps], _ *stream.Property[Hydrated[simpleProps, simpleState]]) *stream.Property[simpleState] {
		return stream.Never[simpleState]()
	}
	dehydrate := func(s simpleState) int { return s.Base }
	hydrate := func(base int, p simpleProps) simpleState { return computeSimple(p, base) }

	tests := []struct {
		name string
		opts Options[simpleProps, simpleState, int]
	}{
		{
			name: "no name",
			opts: Options[simpleProps, simpleState, int]{Component: component, State: state, Dehydrate: dehydrate, Hydrate: hydrate},
		},
		{
			name: "no component",
			opts: Options[simpleProps, simpleState, int]{Name: "w", State: state, Dehydrate: dehydrate, Hydrate: hydrate},
		},
		{
			name: "no state",
			opts: Options[simpleProps, simpleState, int]{Name: "w", Component: component, Dehydrate: dehydrate, Hydrate: hydrate},
		},
		{
			name: "no dehydrate",
			opts: Options[simpleProps, simpleState, int]{Name: "w", Component: component, State: state, Hydrate: hydrate},
		},
		{
			name: "no hydrate",
			opts: Options[simpleProps, simpleState, int]{Name: "w", Component: component, State: state, Dehydrate: dehydrate},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("New should panic")
				}
			}()
			New(tt.opts)
		})
	}
}

func TestServerRenderOutsideEntryPointFails(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5))
	inst := w.Instance(simpleProps{Power: 2})

	ctx := withPhase(context.Background(), func() Phase { return PhaseServer })
	if err := inst.Render(ctx, io.Discard); err == nil {
		t.Fatal("rendering in server phase without a registry should fail")
	}
}

func TestHydrationFlagIsSticky(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5))

	doc := NewTestDocument()
	el := doc.Add("w1")
	engine := NewTestEngine()
	key := DeriveKey("simple", simpleProps{Power: 4})

	inst, err := HydrateInstance(context.Background(), w, engine, el, simpleProps{Power: 4}, map[string]any{key: 5})
	require.NoError(t, err)
	require.Equal(t, "<section>625</section>", el.HTML())
	require.Zero(t, fetchCount)

	// A later render under a hydrating phase must not consult hydration data
	// again; the instance renders live from its existing state stream.
	accessorCalled := false
	ctx := withPhase(context.Background(), func() Phase { return PhaseHydrating })
	ctx = withHydration(ctx, func(string, any) (any, string, bool) {
		accessorCalled = true
		return nil, "", false
	})
	var sb strings.Builder
	require.NoError(t, inst.Render(ctx, &sb))
	require.Equal(t, "<section>625</section>", sb.String())
	require.False(t, accessorCalled)
}

func TestRefForwardingDoesNotRemount(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5))

	doc := NewTestDocument()
	el := doc.Add("w1")
	engine := NewTestEngine()
	key := DeriveKey("simple", simpleProps{Power: 4})

	inst, err := HydrateInstance(context.Background(), w, engine, el, simpleProps{Power: 4}, map[string]any{key: 5})
	require.NoError(t, err)
	require.Equal(t, 1, engine.Hydrations("w1"))

	ref := NewRef()
	inst.SetRef(ref)
	require.NotNil(t, ref.Current())
	require.Equal(t, "w1", ref.Current().ID())
	require.Equal(t, 1, engine.Hydrations("w1"))
	require.Zero(t, engine.Mounts("w1"))
	require.Zero(t, engine.Updates("w1"))
	require.Equal(t, "<section>625</section>", el.HTML())
}

func TestSetPropsDrivesEngineUpdate(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5))

	doc := NewTestDocument()
	el := doc.Add("w1")
	engine := NewTestEngine()
	key := DeriveKey("simple", simpleProps{Power: 4})

	inst, err := HydrateInstance(context.Background(), w, engine, el, simpleProps{Power: 4}, map[string]any{key: 5})
	require.NoError(t, err)
	require.Equal(t, "<section>625</section>", el.HTML())

	inst.SetProps(simpleProps{Power: 2})
	require.Equal(t, 1, engine.Updates("w1"))
	require.Equal(t, "<section>25</section>", el.HTML())
	require.Zero(t, fetchCount, "hydrated baseline should keep serving the base value")

	inst.Close()
	inst.SetProps(simpleProps{Power: 3})
	require.Equal(t, 1, engine.Updates("w1"), "no updates after Close")
}

func TestMountWithoutSnapshotComputesFromScratch(t *testing.T) {
	fetchCount := 0
	w := newSimpleWidget(fetchConst(&fetchCount, 5))

	doc := NewTestDocument()
	el := doc.Add("w1")
	engine := NewTestEngine()

	_, err := HydrateInstance(context.Background(), w, engine, el, simpleProps{Power: 4}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, engine.Mounts("w1"))
	require.Zero(t, engine.Hydrations("w1"))
	require.Equal(t, "<section>625</section>", el.HTML())
	require.Equal(t, 1, fetchCount)
}
