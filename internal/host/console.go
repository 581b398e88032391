package host

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
)

var consoleLevels = map[string]zapcore.Level{
	protocol.ConsoleLog:   zapcore.InfoLevel,
	protocol.ConsoleDebug: zapcore.DebugLevel,
	protocol.ConsoleWarn:  zapcore.WarnLevel,
}

// ConsoleSink receives guest console entries. Entries are logged and fanned
// out to subscribers; slow subscribers miss entries rather than block.
type ConsoleSink struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.RWMutex
	subs   map[string]chan protocol.ConsoleEntry
	closed bool
}

// NewConsoleSink creates a sink logging under logger.
func NewConsoleSink(logger *zap.Logger, metrics *monitoring.Metrics) *ConsoleSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSink{
		logger:  logger.Named("guest"),
		metrics: metrics,
		subs:    make(map[string]chan protocol.ConsoleEntry),
	}
}

// Write records one entry.
func (s *ConsoleSink) Write(entry protocol.ConsoleEntry) {
	s.metrics.RecordConsole(entry.Level)

	level, ok := consoleLevels[entry.Level]
	if !ok {
		level = zapcore.InfoLevel
	}
	if ce := s.logger.Check(level, "console."+entry.Level); ce != nil {
		ce.Write(zap.Any("args", entry.Args))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.subs {
		select {
		case ch <- entry:
		default:
			s.metrics.RecordDropped("console_subscriber")
			s.logger.Debug("Console subscriber lagging", zap.String("subscriber", id))
		}
	}
}

// Subscribe registers a subscriber with the given buffer. The returned
// cancel func unregisters it and closes the channel.
func (s *ConsoleSink) Subscribe(buffer int) (string, <-chan protocol.ConsoleEntry, func()) {
	id := uuid.NewString()
	ch := make(chan protocol.ConsoleEntry, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return id, ch, func() {}
	}
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of subscribers.
func (s *ConsoleSink) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close ends every subscription.
func (s *ConsoleSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
