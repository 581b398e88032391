package guest

import (
	"errors"
	"reflect"
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/session"
)

// Methods that read the response body.
var bodyMethods = map[string]bool{
	"arrayBuffer": true,
	"bytes":       true,
	"text":        true,
	"json":        true,
	"blob":        true,
	"formData":    true,
}

// fetchFunc returns the forwarding fetch(input, init) installed by init.
func (g *Guest) fetchFunc(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()

		url, init, err := normalizeFetchArgs(vm, call.Argument(0), call.Argument(1))
		if err != nil {
			reject(vm.NewTypeError(err.Error()))
			return vm.ToValue(promise)
		}

		key, future := g.fetches.Allocate()
		future.OnSettle(func(desc *protocol.ResponseDescriptor, err error) {
			g.loop.Post(func(vm *goja.Runtime) {
				if err != nil {
					reject(g.newScriptError(vm, err))
					return
				}
				resolve(g.newResponse(vm, key, desc))
			})
		})

		if err := g.send(protocol.Message{Fetch: &protocol.FetchRequest{Key: key, URL: url, Init: init}}); err != nil {
			g.fetches.Reject(key, err)
		}
		return vm.ToValue(promise)
	}
}

// normalizeFetchArgs accepts fetch(url, init) and fetch(request, init) where
// request is any object with a url property. A request body is drained into
// bytes here; bodies of GET, HEAD and DELETE requests are dropped.
func normalizeFetchArgs(vm *goja.Runtime, input, initArg goja.Value) (string, *protocol.RequestInit, error) {
	if isNullish(input) {
		return "", nil, errors.New("fetch requires a URL")
	}

	init := &protocol.RequestInit{}
	url := input.String()

	if obj, ok := input.(*goja.Object); ok {
		if u := obj.Get("url"); !isNullish(u) {
			url = u.String()
			if err := applyInit(vm, init, obj); err != nil {
				return "", nil, err
			}
		}
	}
	if obj, ok := initArg.(*goja.Object); ok {
		if err := applyInit(vm, init, obj); err != nil {
			return "", nil, err
		}
	}

	if !protocol.MethodAllowsBody(init.MethodOrDefault()) {
		init.Body = nil
	}
	if reflect.ValueOf(*init).IsZero() {
		return url, nil, nil
	}
	return url, init, nil
}

func applyInit(vm *goja.Runtime, init *protocol.RequestInit, obj *goja.Object) error {
	strField := func(name string, dst *string) {
		if v := obj.Get(name); !isNullish(v) {
			*dst = v.String()
		}
	}
	strField("method", &init.Method)
	strField("mode", &init.Mode)
	strField("credentials", &init.Credentials)
	strField("cache", &init.Cache)
	strField("redirect", &init.Redirect)
	strField("referrer", &init.Referrer)
	strField("referrerPolicy", &init.ReferrerPolicy)
	strField("integrity", &init.Integrity)
	if v := obj.Get("keepalive"); !isNullish(v) {
		init.Keepalive = v.ToBoolean()
	}
	if init.Method != "" {
		init.Method = strings.ToUpper(init.Method)
	}

	if v := obj.Get("headers"); !isNullish(v) {
		headers, err := readHeaders(vm, v)
		if err != nil {
			return err
		}
		if init.Headers == nil {
			init.Headers = make(map[string]string, len(headers))
		}
		for k, val := range headers {
			init.Headers[k] = val
		}
	}

	if v := obj.Get("body"); !isNullish(v) {
		if data, ok := bytesOf(vm, v); ok {
			init.Body = data
		} else {
			init.Body = []byte(v.String())
		}
	}
	return nil
}

// readHeaders accepts a plain object, an array of [name, value] pairs, or
// anything with forEach(value, name). Names are lowercased.
func readHeaders(vm *goja.Runtime, v goja.Value) (map[string]string, error) {
	obj := v.ToObject(vm)
	out := make(map[string]string)

	if forEach, ok := goja.AssertFunction(obj.Get("forEach")); ok && obj.ClassName() != "Array" {
		_, err := forEach(obj, newFunc(vm, func(call goja.FunctionCall) goja.Value {
			out[strings.ToLower(call.Argument(1).String())] = call.Argument(0).String()
			return goja.Undefined()
		}))
		return out, err
	}

	if obj.ClassName() == "Array" {
		for _, k := range obj.Keys() {
			pair := obj.Get(k).ToObject(vm)
			out[strings.ToLower(pair.Get("0").String())] = pair.Get("1").String()
		}
		return out, nil
	}

	for _, k := range obj.Keys() {
		out[strings.ToLower(k)] = obj.Get(k).String()
	}
	return out, nil
}

// newResponse builds the script-side response proxy for a descriptor.
// Copied fields become plain properties, deferred fields become methods that
// call back into the host response retained under fetchKey.
func (g *Guest) newResponse(vm *goja.Runtime, fetchKey string, desc *protocol.ResponseDescriptor) goja.Value {
	resp := vm.NewObject()
	if desc == nil {
		desc = protocol.NewResponseDescriptor()
	}

	for name, field := range desc.Fields {
		if !field.IsDeferred() {
			_ = resp.Set(name, field.Value())
		}
	}
	if isNullish(resp.Get("bodyUsed")) {
		_ = resp.Set("bodyUsed", false)
	}
	_ = resp.Set("headers", newHeaders(vm, desc.Headers))

	if desc.HasBody {
		_ = resp.Set("body", g.newBodyStream(vm, fetchKey, resp))
	} else {
		_ = resp.Set("body", goja.Null())
	}

	for _, method := range desc.Methods() {
		_ = resp.Set(method, g.remoteMethod(vm, fetchKey, method, resp))
	}
	return resp
}

func newHeaders(vm *goja.Runtime, headers map[string]string) *goja.Object {
	obj := vm.NewObject()
	for k, v := range headers {
		_ = obj.Set(k, v)
	}

	hidden := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = obj.DefineDataProperty(name, vm.ToValue(fn), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	hidden("get", func(call goja.FunctionCall) goja.Value {
		if v, ok := headers[strings.ToLower(call.Argument(0).String())]; ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	hidden("has", func(call goja.FunctionCall) goja.Value {
		_, ok := headers[strings.ToLower(call.Argument(0).String())]
		return vm.ToValue(ok)
	})
	hidden("forEach", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("forEach requires a function"))
		}
		for k, v := range headers {
			if _, err := fn(goja.Undefined(), vm.ToValue(v), vm.ToValue(k), obj); err != nil {
				rethrow(vm, err)
			}
		}
		return goja.Undefined()
	})
	return obj
}

// remoteMethod returns a function that invokes method on the host response.
func (g *Guest) remoteMethod(vm *goja.Runtime, fetchKey, method string, resp *goja.Object) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		if bodyMethods[method] {
			_ = resp.Set("bodyUsed", true)
		}

		future := g.callRemote(fetchKey, method, serializeArgs(vm, call.Arguments))
		future.OnSettle(func(result any, err error) {
			g.loop.Post(func(vm *goja.Runtime) {
				if err != nil {
					reject(g.newScriptError(vm, err))
					return
				}
				v, err := convertResult(vm, method, result)
				if err != nil {
					reject(vm.NewTypeError(err.Error()))
					return
				}
				resolve(v)
			})
		})
		return vm.ToValue(promise)
	}
}

// callRemote allocates a call session and sends the method call against the
// response retained under fetchKey.
func (g *Guest) callRemote(fetchKey, method string, args []any) *session.Future[any] {
	if args == nil {
		args = []any{}
	}
	callKey, future := g.calls.Allocate()
	msg := protocol.Message{FetchCall: &protocol.FetchCall{
		Key:  fetchKey,
		Call: protocol.CallSpec{Function: method, Key: callKey, Args: args},
	}}
	if err := g.send(msg); err != nil {
		g.calls.Reject(callKey, err)
	}
	return future
}

// convertResult turns a method result into its script form. Byte results
// arrive base64 encoded.
func convertResult(vm *goja.Runtime, method string, result any) (goja.Value, error) {
	switch method {
	case "arrayBuffer":
		data, err := decodeBase64(result)
		if err != nil {
			return nil, err
		}
		return vm.ToValue(vm.NewArrayBuffer(data)), nil
	case "bytes":
		data, err := decodeBase64(result)
		if err != nil {
			return nil, err
		}
		return newUint8Array(vm, data)
	}
	return vm.ToValue(result), nil
}

// newBodyStream returns a minimal readable stream. The first read pulls the
// whole body with one arrayBuffer call; later reads report done.
func (g *Guest) newBodyStream(vm *goja.Runtime, fetchKey string, resp *goja.Object) *goja.Object {
	var pull *session.Future[any]

	read := func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()

		first := pull == nil
		if first {
			_ = resp.Set("bodyUsed", true)
			pull = g.callRemote(fetchKey, "arrayBuffer", nil)
		}

		pull.OnSettle(func(result any, err error) {
			g.loop.Post(func(vm *goja.Runtime) {
				if err != nil {
					reject(g.newScriptError(vm, err))
					return
				}
				chunk := vm.NewObject()
				if !first {
					_ = chunk.Set("value", goja.Undefined())
					_ = chunk.Set("done", true)
					resolve(chunk)
					return
				}
				data, err := decodeBase64(result)
				if err != nil {
					reject(vm.NewTypeError(err.Error()))
					return
				}
				value, err := newUint8Array(vm, data)
				if err != nil {
					reject(vm.NewTypeError(err.Error()))
					return
				}
				_ = chunk.Set("value", value)
				_ = chunk.Set("done", false)
				resolve(chunk)
			})
		})
		return vm.ToValue(promise)
	}

	stream := vm.NewObject()
	_ = stream.Set("locked", false)
	_ = stream.Set("getReader", func(call goja.FunctionCall) goja.Value {
		_ = stream.Set("locked", true)
		reader := vm.NewObject()
		_ = reader.Set("read", read)
		_ = reader.Set("releaseLock", func(goja.FunctionCall) goja.Value {
			_ = stream.Set("locked", false)
			return goja.Undefined()
		})
		_ = reader.Set("cancel", func(goja.FunctionCall) goja.Value {
			p, resolve, _ := vm.NewPromise()
			resolve(goja.Undefined())
			return vm.ToValue(p)
		})
		return reader
	})
	return stream
}
