package guest

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

// handleInit replaces fetch, WebSocket and console with their forwarding
// versions and acknowledges. A repeated handshake reinstalls them.
func (g *Guest) handleInit(vm *goja.Runtime) {
	bindings := map[string]any{
		"fetch":     g.fetchFunc(vm),
		"WebSocket": g.socketConstructor(vm),
		"console":   g.newForwardingConsole(vm, g.localConsole),
	}
	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			g.logger.Error("Failed to install forwarder", zap.String("name", name), zap.Error(err))
			return
		}
	}
	g.installSocketConstants(vm)

	g.logger.Debug("Forwarders installed")
	g.send(protocol.Message{Init: &protocol.Init{Ack: true}})
}
