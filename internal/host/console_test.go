package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

func TestConsoleSinkLogsAtLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewConsoleSink(zap.New(core), nil)

	sink.Write(protocol.ConsoleEntry{Level: protocol.ConsoleLog, Args: []any{"hello", 1.0}})
	sink.Write(protocol.ConsoleEntry{Level: protocol.ConsoleDebug, Args: []any{"detail"}})
	sink.Write(protocol.ConsoleEntry{Level: protocol.ConsoleWarn, Args: []any{}})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "console.log", entries[0].Message)
	assert.Equal(t, "guest", entries[0].LoggerName)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

func TestConsoleSinkFanOut(t *testing.T) {
	sink := NewConsoleSink(nil, nil)
	_, a, cancelA := sink.Subscribe(4)
	_, b, cancelB := sink.Subscribe(4)
	defer cancelB()

	entry := protocol.ConsoleEntry{Level: protocol.ConsoleLog, Args: []any{"x"}}
	sink.Write(entry)
	assert.Equal(t, entry, <-a)
	assert.Equal(t, entry, <-b)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, sink.Subscribers())
}

func TestConsoleSinkDropsForSlowSubscriber(t *testing.T) {
	sink := NewConsoleSink(nil, nil)
	_, ch, cancel := sink.Subscribe(1)
	defer cancel()

	sink.Write(protocol.ConsoleEntry{Level: protocol.ConsoleLog, Args: []any{"first"}})
	sink.Write(protocol.ConsoleEntry{Level: protocol.ConsoleLog, Args: []any{"second"}})

	got := <-ch
	assert.Equal(t, []any{"first"}, got.Args)
	assert.Empty(t, ch)
}

func TestConsoleSinkClose(t *testing.T) {
	sink := NewConsoleSink(nil, nil)
	_, ch, cancel := sink.Subscribe(1)

	sink.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	_, late, _ := sink.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
