package guest

import (
	"encoding/base64"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/shared/id"
)

// WebSocket ready states.
const (
	stateConnecting = 0
	stateOpen       = 1
	stateClosing    = 2
	stateClosed     = 3
)

var readyStates = map[string]int{
	"CONNECTING": stateConnecting,
	"OPEN":       stateOpen,
	"CLOSING":    stateClosing,
	"CLOSED":     stateClosed,
}

// socketProxy is the guest half of a relayed socket. The host holds the real
// connection under the same key. Listener sets never cross the channel.
type socketProxy struct {
	key       string
	obj       *goja.Object
	listeners map[string][]goja.Value
}

// socketConstructor returns the forwarding WebSocket constructor.
func (g *Guest) socketConstructor(vm *goja.Runtime) func(goja.ConstructorCall) *goja.Object {
	return func(call goja.ConstructorCall) *goja.Object {
		if isNullish(call.Argument(0)) {
			panic(vm.NewTypeError("WebSocket requires a URL"))
		}

		p := &socketProxy{
			key:       id.New(id.SocketPrefix).String(),
			obj:       call.This,
			listeners: make(map[string][]goja.Value),
		}
		url := call.Argument(0).String()

		obj := call.This
		_ = obj.Set("url", url)
		_ = obj.Set("readyState", stateConnecting)
		_ = obj.Set("protocol", "")
		_ = obj.Set("binaryType", "arraybuffer")
		for name, state := range readyStates {
			_ = obj.Set(name, state)
		}
		for _, event := range []string{"open", "message", "error", "close"} {
			_ = obj.Set("on"+event, goja.Null())
		}

		_ = obj.Set("send", func(call goja.FunctionCall) goja.Value {
			g.forwardSocket(p.key, protocol.SocketSend, []any{encodeFrame(vm, call.Argument(0))})
			return goja.Undefined()
		})
		_ = obj.Set("close", func(call goja.FunctionCall) goja.Value {
			var args []any
			for _, a := range call.Arguments {
				if isNullish(a) {
					break
				}
				args = append(args, a.Export())
			}
			_ = obj.Set("readyState", stateClosing)
			g.forwardSocket(p.key, protocol.SocketClose, args)
			return goja.Undefined()
		})
		_ = obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
			p.addListener(call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		})
		_ = obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
			p.removeListener(call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		})

		g.sockets.Put(p.key, p)

		args := []any{url}
		if protocols := call.Argument(1); !isNullish(protocols) {
			args = append(args, serializeValue(vm, protocols))
		}
		g.forwardSocket(p.key, protocol.SocketNew, args)
		return obj
	}
}

// installSocketConstants sets the ready-state constants on the constructor.
func (g *Guest) installSocketConstants(vm *goja.Runtime) {
	ctor := vm.Get("WebSocket")
	if isNullish(ctor) {
		return
	}
	obj := ctor.ToObject(vm)
	for name, state := range readyStates {
		_ = obj.Set(name, state)
	}
}

func (g *Guest) forwardSocket(key, method string, args []any) {
	if args == nil {
		args = []any{}
	}
	g.send(protocol.Message{Socket: &protocol.SocketEvent{Key: key, Method: method, Args: args}})
}

// encodeFrame keeps text as is and sends binary data as {binary, data}
// with base64 data.
func encodeFrame(vm *goja.Runtime, v goja.Value) any {
	if data, ok := bytesOf(vm, v); ok {
		return map[string]any{"binary": true, "data": base64.StdEncoding.EncodeToString(data)}
	}
	if isNullish(v) {
		return ""
	}
	return v.String()
}

func (p *socketProxy) addListener(event string, fn goja.Value) {
	if _, ok := goja.AssertFunction(fn); !ok {
		return
	}
	for _, existing := range p.listeners[event] {
		if existing.SameAs(fn) {
			return
		}
	}
	p.listeners[event] = append(p.listeners[event], fn)
}

func (p *socketProxy) removeListener(event string, fn goja.Value) {
	list := p.listeners[event]
	for i, existing := range list {
		if existing.SameAs(fn) {
			p.listeners[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// dispatchSocket delivers a host event to every listener of the matching
// proxy, then to its on<event> handler. finish retires the proxy.
func (g *Guest) dispatchSocket(vm *goja.Runtime, ev *protocol.SocketEvent) {
	p, ok := g.sockets.Get(ev.Key)
	if !ok {
		g.logger.Debug("Ignoring event for unknown socket",
			zap.String("key", ev.Key),
			zap.String("method", ev.Method))
		return
	}

	switch ev.Method {
	case protocol.SocketFinish:
		g.sockets.Delete(ev.Key)
		return
	case protocol.SocketOpen:
		_ = p.obj.Set("readyState", stateOpen)
	case protocol.SocketClose:
		_ = p.obj.Set("readyState", stateClosed)
	}

	args := make([]goja.Value, len(ev.Args))
	for i, a := range ev.Args {
		args[i] = eventArg(vm, ev.Method, p.obj, a)
	}

	handlers := append([]goja.Value(nil), p.listeners[ev.Method]...)
	if h := p.obj.Get("on" + ev.Method); h != nil {
		if _, ok := goja.AssertFunction(h); ok {
			handlers = append(handlers, h)
		}
	}

	for _, h := range handlers {
		fn, _ := goja.AssertFunction(h)
		if _, err := fn(p.obj, args...); err != nil {
			g.local.Error("Socket listener failed",
				zap.String("event", ev.Method),
				zap.String("error", serializeRunError(vm, err).Error()))
		}
	}
}

// eventArg converts an event payload. Object payloads become event objects
// with type and target; binary message data is decoded to an ArrayBuffer.
func eventArg(vm *goja.Runtime, method string, target *goja.Object, a any) goja.Value {
	m, ok := a.(map[string]any)
	if !ok {
		return vm.ToValue(a)
	}

	ev := vm.NewObject()
	for k, v := range m {
		_ = ev.Set(k, v)
	}
	if binary, _ := m["binary"].(bool); binary && method == protocol.SocketMessage {
		if data, err := decodeBase64(m["data"]); err == nil {
			_ = ev.Set("data", vm.NewArrayBuffer(data))
		}
	}
	_ = ev.Set("type", method)
	_ = ev.Set("target", target)
	return ev
}
