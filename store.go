package widgets

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// RootKey is the well-known global property the hydration script writes
// under. It is the single conventional serialization location at the page
// boundary; everywhere else the store is passed explicitly.
const RootKey = "__WIDGET_DATA__"

// InstanceRecord is the stored payload for one widget mount point: the props
// the server rendered with and the correlation-keyed minimized state
// snapshots of the widget and every widget nested beneath it.
type InstanceRecord struct {
	Props     any            `json:"props" msgpack:"props"`
	Hydration map[string]any `json:"hydration" msgpack:"hydration"`
}

// WidgetRecord groups the stored instances of one widget name. Hydrated
// transitions false to true exactly once, the first time hydration completes
// for the name; it guards against duplicate processing.
type WidgetRecord struct {
	Instances map[string]*InstanceRecord `json:"instances" msgpack:"instances"`
	Hydrated  bool                       `json:"hydrated,omitempty" msgpack:"hydrated"`
}

// Store is the hydration payload store: widget name to stored instances.
// The server writes it once at serialization time; the hydration entry point
// reads and mutates it in place during a single hydration pass per widget
// name.
type Store struct {
	mu      sync.Mutex
	Widgets map[string]*WidgetRecord `json:"-" msgpack:"-"`
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{Widgets: make(map[string]*WidgetRecord)}
}

// Merge assigns an instance record under (widgetName, mountPointID),
// creating intermediate records as needed. This mirrors the idempotent
// deep-merge-assign the embedded script performs in the browser.
func (s *Store) Merge(widgetName, mountPointID string, rec InstanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Widgets == nil {
		s.Widgets = make(map[string]*WidgetRecord)
	}
	w := s.Widgets[widgetName]
	if w == nil {
		w = &WidgetRecord{Instances: make(map[string]*InstanceRecord)}
		s.Widgets[widgetName] = w
	}
	if w.Instances == nil {
		w.Instances = make(map[string]*InstanceRecord)
	}
	w.Instances[mountPointID] = &rec
}

// Widget returns the record stored under name.
func (s *Store) Widget(name string) (*WidgetRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.Widgets[name]
	return w, ok
}

// MarshalBinary encodes the store with msgpack. Use with UnmarshalBinary for
// transports that can't execute a script tag, such as a data attribute read
// by a Go client.
func (s *Store) MarshalBinary() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return msgpack.Marshal(s.Widgets)
}

// UnmarshalBinary decodes a store produced by MarshalBinary.
func (s *Store) UnmarshalBinary(data []byte) error {
	var widgets map[string]*WidgetRecord
	if err := msgpack.Unmarshal(data, &widgets); err != nil {
		return err
	}
	s.mu.Lock()
	s.Widgets = widgets
	s.mu.Unlock()
	return nil
}

// EncodeTransfer returns the store as base64 msgpack, suitable for embedding
// in an HTML attribute.
func (s *Store) EncodeTransfer() (string, error) {
	raw, err := s.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransfer reconstructs a store from EncodeTransfer output.
func DecodeTransfer(encoded string) (*Store, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	s := NewStore()
	if err := s.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return s, nil
}

// hydrationScript renders the script tag that performs an idempotent
// deep-merge-assign of an instance record into the well-known global path
// [RootKey, widgetName, "instances", mountPointID].
func hydrationScript(widgetName, mountPointID string, props any, hydration map[string]any) (string, error) {
	payload, err := json.Marshal(InstanceRecord{Props: props, Hydration: hydration})
	if err != nil {
		return "", err
	}
	path, err := json.Marshal([]string{RootKey, widgetName, "instances", mountPointID})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		`<script type="text/javascript">Object.assign(%s.reduce(function(a,b){return a[b]=a[b]||{};},window),%s);</script>`,
		path, payload,
	), nil
}

// convert coerces a dynamically typed value (typically the result of JSON or
// msgpack decoding) into T, round-tripping through JSON when a direct type
// assertion doesn't hold.
func convert[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	raw, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
