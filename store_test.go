package widgets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHydrationScriptFormat(t *testing.T) {
	script, err := hydrationScript("counter", "abc", map[string]any{"n": 1}, map[string]any{"k": 2})
	if err != nil {
		t.Fatal(err)
	}
	want := `<script type="text/javascript">Object.assign(["__WIDGET_DATA__","counter","instances","abc"].reduce(function(a,b){return a[b]=a[b]||{};},window),{"props":{"n":1},"hydration":{"k":2}});</script>`
	if script != want {
		t.Errorf("script = %s\nwant     %s", script, want)
	}
}

func TestStoreMerge(t *testing.T) {
	s := NewStore()
	s.Merge("counter", "a", InstanceRecord{Props: 1})
	s.Merge("counter", "b", InstanceRecord{Props: 2})
	s.Merge("other", "a", InstanceRecord{Props: 3})

	rec, ok := s.Widget("counter")
	if !ok {
		t.Fatal("counter record missing")
	}
	if len(rec.Instances) != 2 {
		t.Errorf("instances = %d, want 2", len(rec.Instances))
	}
	if rec.Hydrated {
		t.Error("fresh record must not be marked hydrated")
	}

	// Merging again replaces the instance in place.
	s.Merge("counter", "a", InstanceRecord{Props: 9})
	rec, _ = s.Widget("counter")
	if rec.Instances["a"].Props != 9 {
		t.Errorf("props = %v, want 9", rec.Instances["a"].Props)
	}
}

func TestStoreTransferRoundTrip(t *testing.T) {
	key := DeriveKey("simple", simpleProps{Power: 4})
	s := NewStore()
	s.Merge("simple", "mount-1", InstanceRecord{
		Props:     map[string]any{"power": 4},
		Hydration: map[string]any{key: 5},
	})

	encoded, err := s.EncodeTransfer()
	require.NoError(t, err)

	decoded, err := DecodeTransfer(encoded)
	require.NoError(t, err)

	rec, ok := decoded.Widget("simple")
	require.True(t, ok)
	require.Len(t, rec.Instances, 1)

	inst := rec.Instances["mount-1"]
	require.NotNil(t, inst)

	props, err := convert[simpleProps](inst.Props)
	require.NoError(t, err)
	require.Equal(t, simpleProps{Power: 4}, props)

	base, err := convert[int](inst.Hydration[key])
	require.NoError(t, err)
	require.Equal(t, 5, base)
}

func TestDecodeTransferRejectsGarbage(t *testing.T) {
	if _, err := DecodeTransfer("not base64!!!"); err == nil {
		t.Error("invalid base64 must fail")
	}
	if _, err := DecodeTransfer("aGVsbG8="); err == nil {
		t.Error("valid base64 of non-msgpack data must fail")
	}
}

func TestConvert(t *testing.T) {
	t.Run("direct assertion", func(t *testing.T) {
		v, err := convert[int](5)
		if err != nil || v != 5 {
			t.Errorf("convert = %d, %v", v, err)
		}
	})
	t.Run("json round trip", func(t *testing.T) {
		v, err := convert[simpleProps](map[string]any{"power": 4})
		if err != nil || v.Power != 4 {
			t.Errorf("convert = %+v, %v", v, err)
		}
	})
	t.Run("numeric widening", func(t *testing.T) {
		v, err := convert[int](float64(5))
		if err != nil || v != 5 {
			t.Errorf("convert = %d, %v", v, err)
		}
	})
	t.Run("mismatch", func(t *testing.T) {
		if _, err := convert[int]("five"); err == nil {
			t.Error("string into int must fail")
		}
	})
}
