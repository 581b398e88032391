package guest

import (
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

var localLevels = map[string]zapcore.Level{
	"log":   zapcore.InfoLevel,
	"info":  zapcore.InfoLevel,
	"debug": zapcore.DebugLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// forwardedLevels are the console methods mirrored to the host.
var forwardedLevels = []string{protocol.ConsoleLog, protocol.ConsoleDebug, protocol.ConsoleWarn}

// newLocalConsole builds the guest's own console, which writes to the local
// logger only.
func (g *Guest) newLocalConsole(vm *goja.Runtime) *goja.Object {
	console := vm.NewObject()
	for name, level := range localLevels {
		_ = console.Set(name, g.makeLocalConsoleFunc(level))
	}
	return console
}

func (g *Guest) makeLocalConsoleFunc(level zapcore.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if ce := g.local.Check(level, strings.Join(parts, " ")); ce != nil {
			ce.Write()
		}
		return goja.Undefined()
	}
}

// newForwardingConsole wraps local: log, debug and warn run locally and are
// then sent to the host. Other methods stay local.
func (g *Guest) newForwardingConsole(vm *goja.Runtime, local *goja.Object) *goja.Object {
	console := vm.NewObject()
	for _, key := range local.Keys() {
		_ = console.Set(key, local.Get(key))
	}

	for _, level := range forwardedLevels {
		original, _ := goja.AssertFunction(local.Get(level))
		level := level
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			if original != nil {
				if _, err := original(local, call.Arguments...); err != nil {
					g.logger.Debug("Local console call failed", zap.Error(err))
				}
			}
			g.send(protocol.Message{Console: &protocol.ConsoleEntry{
				Level: level,
				Args:  serializeArgs(vm, call.Arguments),
			}})
			return goja.Undefined()
		})
	}
	return console
}
