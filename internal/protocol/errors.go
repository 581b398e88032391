package protocol

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sort"
	"sync"
)

// Error names shared with the guest's JavaScript environment.
const (
	ErrorNameGeneric = "Error"
	ErrorNameType    = "TypeError"
	ErrorNameTimeout = "TimeoutError"
	ErrorNameAbort   = "AbortError"
	ErrorNameSyntax  = "SyntaxError"
)

// SerializedError is an error flattened for the wire as
// {name, message, ...fields}.
type SerializedError struct {
	Name    string
	Message string
	Fields  map[string]any
}

// Named is implemented by errors that carry a JavaScript-style name.
type Named interface {
	ErrorName() string
}

// FieldError is implemented by errors with extra enumerable fields.
type FieldError interface {
	ErrorFields() map[string]any
}

// NewSerializedError captures err for transmission. Network failures are
// named TypeError, matching what a browser fetch rejects with.
func NewSerializedError(err error) *SerializedError {
	if err == nil {
		return nil
	}

	var serialized *SerializedError
	if errors.As(err, &serialized) {
		return &SerializedError{Name: serialized.Name, Message: serialized.Message, Fields: copyFields(serialized.Fields)}
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		return &SerializedError{Name: remote.Name, Message: remote.Message, Fields: copyFields(remote.Fields)}
	}

	se := &SerializedError{Name: ErrorNameGeneric, Message: err.Error()}

	var named Named
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.As(err, &named):
		se.Name = named.ErrorName()
	case errors.Is(err, context.DeadlineExceeded):
		se.Name = ErrorNameTimeout
	case errors.Is(err, context.Canceled):
		se.Name = ErrorNameAbort
	case errors.As(err, &netErr) && netErr.Timeout():
		se.Name = ErrorNameTimeout
	case errors.As(err, &urlErr):
		se.Name = ErrorNameType
	}

	var fielded FieldError
	if errors.As(err, &fielded) {
		se.Fields = copyFields(fielded.ErrorFields())
	}
	return se
}

// Error implements error so a SerializedError can be returned directly.
func (e *SerializedError) Error() string {
	return e.Err().Error()
}

// Err reconstructs a local error. A constructor registered under the same
// name is used when one exists; otherwise a generic *RemoteError keeps the
// name and fields.
func (e *SerializedError) Err() error {
	if e == nil {
		return nil
	}
	constructorsMu.RLock()
	ctor, ok := constructors[e.Name]
	constructorsMu.RUnlock()
	if ok {
		return ctor(e)
	}
	return &RemoteError{Name: e.Name, Message: e.Message, Fields: copyFields(e.Fields)}
}

// MarshalJSON implements json.Marshaler.
func (e *SerializedError) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = Serialize(v)
	}
	out["name"] = e.Name
	out["message"] = e.Message
	return codec.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *SerializedError) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := codec.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Name, _ = raw["name"].(string)
	e.Message, _ = raw["message"].(string)
	if e.Name == "" {
		e.Name = ErrorNameGeneric
	}
	delete(raw, "name")
	delete(raw, "message")
	e.Fields = nil
	if len(raw) > 0 {
		e.Fields = raw
	}
	return nil
}

// FieldNames returns the extra field names in sorted order.
func (e *SerializedError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RemoteError is an error that originated on the other side of the channel.
type RemoteError struct {
	Name    string
	Message string
	Fields  map[string]any

	cause error
}

func (e *RemoteError) Error() string {
	if e.Name == "" || e.Name == ErrorNameGeneric {
		return e.Message
	}
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// ErrorName implements Named.
func (e *RemoteError) ErrorName() string { return e.Name }

// ErrorFields implements FieldError.
func (e *RemoteError) ErrorFields() map[string]any { return e.Fields }

// Unwrap exposes the local sentinel a registered constructor mapped to.
func (e *RemoteError) Unwrap() error { return e.cause }

var (
	constructorsMu sync.RWMutex
	constructors   = map[string]func(*SerializedError) error{
		ErrorNameTimeout: wrapSentinel(context.DeadlineExceeded),
		ErrorNameAbort:   wrapSentinel(context.Canceled),
	}
)

// RegisterError installs a local constructor for errors with the given name.
func RegisterError(name string, ctor func(*SerializedError) error) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[name] = ctor
}

func wrapSentinel(sentinel error) func(*SerializedError) error {
	return func(se *SerializedError) error {
		return &RemoteError{Name: se.Name, Message: se.Message, Fields: copyFields(se.Fields), cause: sentinel}
	}
}

func copyFields(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
