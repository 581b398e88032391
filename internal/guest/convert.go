package guest

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

// serializeValue converts a script value for the wire: structural clone of
// the exported value, then JSON.stringify inside the VM, then the rest of the
// protocol fallback chain.
func serializeValue(vm *goja.Runtime, v goja.Value) any {
	if isNullish(v) {
		return nil
	}
	exported := v.Export()
	if clone, ok := protocol.StructuralClone(exported); ok {
		return clone
	}
	if data, err := jsonStringify(vm, v); err == nil {
		var out any
		if err := sonic.ConfigStd.UnmarshalFromString(data, &out); err == nil {
			return out
		}
	}
	return protocol.Serialize(exported)
}

func serializeArgs(vm *goja.Runtime, args []goja.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = serializeValue(vm, a)
	}
	return out
}

func jsonStringify(vm *goja.Runtime, v goja.Value) (string, error) {
	jsonObj := vm.Get("JSON")
	if isNullish(jsonObj) {
		return "", errors.New("JSON unavailable")
	}
	obj := jsonObj.ToObject(vm)
	stringify, ok := goja.AssertFunction(obj.Get("stringify"))
	if !ok {
		return "", errors.New("JSON.stringify unavailable")
	}
	out, err := stringify(obj, v)
	if err != nil {
		return "", err
	}
	if isNullish(out) {
		return "", errors.New("value has no JSON form")
	}
	return out.String(), nil
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// serializeThrown captures a thrown script value as {name, message, ...own
// enumerable fields}.
func serializeThrown(vm *goja.Runtime, v goja.Value) *protocol.SerializedError {
	obj, ok := v.(*goja.Object)
	if !ok {
		msg := "undefined"
		if v != nil {
			msg = v.String()
		}
		return &protocol.SerializedError{Name: protocol.ErrorNameGeneric, Message: msg}
	}

	se := &protocol.SerializedError{Name: protocol.ErrorNameGeneric}
	if name := obj.Get("name"); !isNullish(name) {
		se.Name = name.String()
	}
	if msg := obj.Get("message"); !isNullish(msg) {
		se.Message = msg.String()
	} else {
		se.Message = obj.String()
	}

	for _, key := range obj.Keys() {
		if key == "name" || key == "message" {
			continue
		}
		if se.Fields == nil {
			se.Fields = make(map[string]any)
		}
		se.Fields[key] = serializeValue(vm, obj.Get(key))
	}
	return se
}

// serializeRunError maps an error returned by the VM.
func serializeRunError(vm *goja.Runtime, err error) *protocol.SerializedError {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return serializeThrown(vm, exc.Value())
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &protocol.SerializedError{Name: protocol.ErrorNameTimeout, Message: ErrScriptTimeout.Error()}
	}
	return protocol.NewSerializedError(err)
}

var builtinErrorNames = []string{
	"Error", "EvalError", "RangeError", "ReferenceError", "SyntaxError", "TypeError", "URIError",
}

// captureErrorConstructors snapshots the native error constructors. It runs
// before any script, so later reassignment of the globals has no effect.
func captureErrorConstructors(vm *goja.Runtime) map[string]*goja.Object {
	ctors := make(map[string]*goja.Object, len(builtinErrorNames))
	for _, name := range builtinErrorNames {
		if v := vm.Get(name); !isNullish(v) {
			ctors[name] = v.ToObject(vm)
		}
	}
	return ctors
}

// newScriptError builds a native error of the same name when one exists,
// else a generic Error. Message and fields are kept.
func (g *Guest) newScriptError(vm *goja.Runtime, err error) goja.Value {
	se := protocol.NewSerializedError(err)

	ctor, ok := g.errorCtors[se.Name]
	if !ok {
		ctor = g.errorCtors[protocol.ErrorNameGeneric]
	}
	if ctor == nil {
		return vm.ToValue(se.Error())
	}
	obj, cerr := vm.New(ctor, vm.ToValue(se.Message))
	if cerr != nil {
		return vm.ToValue(se.Error())
	}

	for k, v := range se.Fields {
		_ = obj.Set(k, v)
	}
	return obj
}

// bytesOf extracts raw bytes from an ArrayBuffer or typed array view.
func bytesOf(vm *goja.Runtime, v goja.Value) ([]byte, bool) {
	if isNullish(v) {
		return nil, false
	}
	switch x := v.Export().(type) {
	case goja.ArrayBuffer:
		return append([]byte(nil), x.Bytes()...), true
	case []byte:
		return append([]byte(nil), x...), true
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	bufVal := obj.Get("buffer")
	if isNullish(bufVal) {
		return nil, false
	}
	buf, ok := bufVal.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, false
	}
	data := buf.Bytes()
	offset := intProp(obj, "byteOffset", 0)
	length := intProp(obj, "byteLength", len(data)-offset)
	if offset < 0 || length < 0 || offset+length > len(data) {
		return nil, false
	}
	return append([]byte(nil), data[offset:offset+length]...), true
}

func intProp(obj *goja.Object, name string, fallback int) int {
	v := obj.Get(name)
	if isNullish(v) {
		return fallback
	}
	return int(v.ToInteger())
}

func decodeBase64(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return base64.StdEncoding.DecodeString(x)
	default:
		return nil, fmt.Errorf("expected base64 string, got %T", v)
	}
}

func newUint8Array(vm *goja.Runtime, data []byte) (goja.Value, error) {
	arr, err := vm.New(vm.Get("Uint8Array"), vm.ToValue(vm.NewArrayBuffer(data)))
	if err != nil {
		return nil, err
	}
	return arr, nil
}

// newFunc wraps a Go callback as a script function value.
func newFunc(vm *goja.Runtime, fn func(call goja.FunctionCall) goja.Value) goja.Value {
	return vm.ToValue(fn)
}

// rethrow propagates an error from a nested script call out of a Go
// callback as a script exception.
func rethrow(vm *goja.Runtime, err error) {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		panic(exc.Value())
	}
	panic(vm.NewGoError(err))
}
