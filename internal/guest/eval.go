package guest

import (
	"errors"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/channel"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

// evaluate runs an eval request in the global scope. Requests without a
// string script or without a key get no reply.
func (g *Guest) evaluate(vm *goja.Runtime, req *protocol.EvalRequest) {
	script, ok := req.Script.(string)
	if !ok || req.Key == nil {
		g.logger.Debug("Ignoring eval with invalid arguments",
			zap.Bool("scriptIsString", ok),
			zap.Bool("hasKey", req.Key != nil))
		return
	}

	g.installGlobals(vm, req.Globals)

	val, err := vm.RunString(script)
	if err != nil {
		g.evalFailed(req.Key, script, serializeRunError(vm, err))
		return
	}

	g.await(vm, val,
		func(result goja.Value) {
			err := g.send(protocol.Message{EvalReply: &protocol.EvalReply{
				Key:     req.Key,
				Result:  serializeValue(vm, result),
				Success: true,
			}})
			if errors.Is(err, channel.ErrEncode) {
				g.evalFailed(req.Key, script, &protocol.SerializedError{
					Name:    protocol.ErrorNameType,
					Message: "eval result could not be serialized: " + err.Error(),
				})
			}
		},
		func(reason goja.Value) {
			g.evalFailed(req.Key, script, serializeThrown(vm, reason))
		})
}

// installGlobals removes names injected by the previous eval that are absent
// from globals, then sets every entry of globals.
func (g *Guest) installGlobals(vm *goja.Runtime, globals map[string]any) {
	global := vm.GlobalObject()
	for name := range g.injected {
		if _, keep := globals[name]; !keep {
			_ = global.Delete(name)
		}
	}

	g.injected = make(map[string]struct{}, len(globals))
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			g.logger.Warn("Failed to install global", zap.String("name", name), zap.Error(err))
			continue
		}
		g.injected[name] = struct{}{}
	}
}

func (g *Guest) evalFailed(key any, script string, se *protocol.SerializedError) {
	g.local.Error("Eval failed",
		zap.String("script", script),
		zap.String("error", se.Error()))

	err := g.send(protocol.Message{EvalReply: &protocol.EvalReply{
		Key:     key,
		Success: false,
		Error:   se,
	}})
	if errors.Is(err, channel.ErrEncode) && len(se.Fields) > 0 {
		// Fields are the only part without a guaranteed wire form
		g.send(protocol.Message{EvalReply: &protocol.EvalReply{
			Key:     key,
			Success: false,
			Error:   &protocol.SerializedError{Name: se.Name, Message: se.Message},
		}})
	}
}

// await calls onValue with val, or with its settled value when val is
// thenable. onError receives a rejection reason or a synchronous throw from
// then itself.
func (g *Guest) await(vm *goja.Runtime, val goja.Value, onValue, onError func(goja.Value)) {
	obj, ok := val.(*goja.Object)
	if !ok {
		onValue(val)
		return
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		onValue(val)
		return
	}

	fulfilled := newFunc(vm, func(call goja.FunctionCall) goja.Value {
		onValue(call.Argument(0))
		return goja.Undefined()
	})
	rejected := newFunc(vm, func(call goja.FunctionCall) goja.Value {
		onError(call.Argument(0))
		return goja.Undefined()
	})

	if _, err := then(obj, fulfilled, rejected); err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			onError(exc.Value())
			return
		}
		onError(vm.ToValue(err.Error()))
	}
}
