package widgets

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// DeriveKey generates a correlation key from a widget name and the props of
// one of its instances. The key is used to match server-computed state with
// hydration data in the browser-side payload.
//
// Props are canonicalized before hashing so that semantically equal props
// always produce the same key: object entries are sorted by property name,
// and entries whose values can't be serialized (functions, channels, nil
// interfaces and the like) are dropped. Arrays keep their order. The result
// is the widget name joined with a hex SHA-256 digest of the canonical form,
// keeping keys debuggable by inspection.
//
// DeriveKey always succeeds. Cyclic prop graphs are out of scope.
func DeriveKey(name string, props any) string {
	var b strings.Builder
	writeCanonical(&b, reflect.ValueOf(props))
	sum := sha256.Sum256([]byte(b.String()))
	return name + "--" + hex.EncodeToString(sum[:])
}

// ignorable reports whether a value is serialization noise that should be
// excluded from the canonical form.
func ignorable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid, reflect.Func, reflect.Chan, reflect.UnsafePointer,
		reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return false // serializes as null, which is meaningful
		}
		return ignorable(v.Elem())
	}
	return false
}

// writeCanonical appends a stable JSON-like rendering of v to b.
func writeCanonical(b *strings.Builder, v reflect.Value) {
	switch v.Kind() {
	case reflect.Invalid:
		b.WriteString("null")

	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			b.WriteString("null")
			return
		}
		writeCanonical(b, v.Elem())

	case reflect.Map:
		entries := make([]mapEntry, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			if ignorable(iter.Value()) {
				continue
			}
			entries = append(entries, mapEntry{key: keyString(iter.Key()), value: iter.Value()})
		}
		writeObject(b, entries)

	case reflect.Struct:
		t := v.Type()
		entries := make([]mapEntry, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			fv := v.Field(i)
			if ignorable(fv) {
				continue
			}
			entries = append(entries, mapEntry{key: name, value: fv})
		}
		writeObject(b, entries)

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			b.WriteString("null")
			return
		}
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			el := v.Index(i)
			if ignorable(el) {
				// Mirror JSON's treatment of unserializable array elements.
				b.WriteString("null")
				continue
			}
			writeCanonical(b, el)
		}
		b.WriteByte(']')

	case reflect.String:
		b.WriteString(strconv.Quote(v.String()))

	case reflect.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(v.Int(), 10))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(v.Uint(), 10))

	case reflect.Float32, reflect.Float64:
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))

	default:
		// Func, chan, complex and friends are filtered out before we get
		// here; anything else renders as null rather than failing.
		b.WriteString("null")
	}
}

type mapEntry struct {
	key   string
	value reflect.Value
}

func writeObject(b *strings.Builder, entries []mapEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(e.key))
		b.WriteByte(':')
		writeCanonical(b, e.value)
	}
	b.WriteByte('}')
}

func keyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	var b strings.Builder
	writeCanonical(&b, k)
	return b.String()
}
