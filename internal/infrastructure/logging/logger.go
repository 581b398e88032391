package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with bridge-specific constructors.
type Logger struct {
	*zap.Logger
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
}

// DefaultConfig returns production logger configuration.
func DefaultConfig() Config {
	return Config{Level: "info", OutputPaths: []string{"stdout"}}
}

// DevelopmentConfig returns development logger configuration.
func DevelopmentConfig() Config {
	return Config{Level: "debug", Development: true, OutputPaths: []string{"stdout"}}
}

// New creates a new logger with the provided configuration.
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg.Sampling = nil
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.MessageKey = "message"
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.DisableStacktrace = !cfg.Development
	if len(cfg.OutputPaths) > 0 {
		zapCfg.OutputPaths = cfg.OutputPaths
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	return orNop(New(DefaultConfig()))
}

// NewDevelopment creates a logger with development configuration.
func NewDevelopment() *Logger {
	return orNop(New(DevelopmentConfig()))
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// FromLevel builds a logger for the given level, choosing the development
// encoder when dev is true. Unknown levels fall back to info.
func FromLevel(level string, dev bool) *Logger {
	cfg := DefaultConfig()
	if dev {
		cfg = DevelopmentConfig()
	}
	if level != "" {
		cfg.Level = level
	}

	logger, err := New(cfg)
	if err != nil {
		cfg.Level = "info"
		return orNop(New(cfg))
	}
	return logger
}

// WithOrigin returns a child logger tagged with the origin one side of the
// bridge speaks as.
func (l *Logger) WithOrigin(origin string) *zap.Logger {
	return l.With(zap.String("origin", origin))
}

func orNop(l *Logger, err error) *Logger {
	if err != nil {
		return NewNop()
	}
	return l
}
