package protocol

import (
	"net/http"
	"sort"
	"strings"
)

// Marker values placed in a descriptor in place of things that cannot be
// copied by value.
const (
	markerFunction = "function"
	markerPromise  = "promise"
	markerStream   = "stream"

	fieldHeaders = "headers"
	fieldBody    = "body"
)

// RemoteField is either a value copied from the host response or a deferred
// call that needs another round trip: Value(v) | DeferredCall(name).
type RemoteField struct {
	value    any
	deferred bool
}

// Value wraps a field copied by value.
func Value(v any) RemoteField { return RemoteField{value: v} }

// DeferredCall marks a field that is a method on the host-side response.
func DeferredCall() RemoteField { return RemoteField{deferred: true} }

// IsDeferred reports whether calling this field requires a round trip.
func (f RemoteField) IsDeferred() bool { return f.deferred }

// Value returns the copied value (nil for deferred calls).
func (f RemoteField) Value() any { return f.value }

// ResponseDescriptor is a serializable snapshot of a host response. Headers
// are flattened to one value per name; the body is represented only by
// whether it exists, since bytes are pulled lazily.
type ResponseDescriptor struct {
	Fields  map[string]RemoteField
	Headers map[string]string
	HasBody bool
}

// NewResponseDescriptor returns an empty descriptor.
func NewResponseDescriptor() *ResponseDescriptor {
	return &ResponseDescriptor{
		Fields:  make(map[string]RemoteField),
		Headers: make(map[string]string),
	}
}

// Set stores a field, serializing the value.
func (d *ResponseDescriptor) Set(name string, v any) {
	d.Fields[name] = Value(Serialize(v))
}

// Defer marks name as a deferred method.
func (d *ResponseDescriptor) Defer(name string) {
	d.Fields[name] = DeferredCall()
}

// Get returns the copied value of name and whether it was present by value.
func (d *ResponseDescriptor) Get(name string) (any, bool) {
	f, ok := d.Fields[name]
	if !ok || f.deferred {
		return nil, false
	}
	return f.value, true
}

// Methods returns the deferred field names in sorted order.
func (d *ResponseDescriptor) Methods() []string {
	var names []string
	for name, f := range d.Fields {
		if f.deferred {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FlattenHeaders joins multi-valued headers with ", " and lowercases names.
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (d *ResponseDescriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+2)
	for name, f := range d.Fields {
		if f.deferred {
			out[name] = map[string]any{markerFunction: markerPromise}
			continue
		}
		out[name] = f.value
	}
	headers := d.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	out[fieldHeaders] = headers
	if d.HasBody {
		out[fieldBody] = map[string]any{markerStream: true}
	} else {
		out[fieldBody] = nil
	}
	return codec.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *ResponseDescriptor) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := codec.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Fields = make(map[string]RemoteField, len(raw))
	d.Headers = make(map[string]string)
	d.HasBody = false

	for name, v := range raw {
		switch name {
		case fieldHeaders:
			if hm, ok := v.(map[string]any); ok {
				for k, hv := range hm {
					if s, ok := hv.(string); ok {
						d.Headers[strings.ToLower(k)] = s
					}
				}
			}
		case fieldBody:
			d.HasBody = truthy(v)
		default:
			if isPromiseMarker(v) {
				d.Fields[name] = DeferredCall()
			} else {
				d.Fields[name] = Value(v)
			}
		}
	}
	return nil
}

func isPromiseMarker(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	return m[markerFunction] == markerPromise
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	}
	return true
}
