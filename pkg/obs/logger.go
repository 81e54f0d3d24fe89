// Package obs wires the ambient logging and metrics stack shared by every
// component: a zap logger constructed once at startup and threaded through
// by value, and a Prometheus registry that components register their own
// collectors against. Grounded on Voskan-arena-cache's pkg/metrics.go
// registry-or-noop pattern, generalized from one package's counters to a
// shared registry every component contributes to.
package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat selects the zap encoder used by NewLogger.
type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// LoggerConfig controls NewLogger. The zero value produces a console,
// info-level logger suitable for local development.
type LoggerConfig struct {
	Level  string
	Format LogFormat
}

// NewLogger builds a zap.Logger from cfg. An unrecognised level falls back
// to info rather than failing startup over a typo in a config file.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Format == LogFormatConsole || cfg.Format == "" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zapCfg.Build()
}

// NewNop returns a logger that discards everything, for use as the default
// in constructors that accept a nil *zap.Logger, so every component can be
// constructed without a logger in tests (see SPEC_FULL.md's AMBIENT STACK).
func NewNop() *zap.Logger { return zap.NewNop() }

// orNop returns log if non-nil, otherwise a no-op logger. Every package
// that accepts a *zap.Logger constructor argument calls this so tests never
// have to pass one.
func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Named returns a child logger scoped to component, falling back to a
// no-op root when log is nil.
func Named(log *zap.Logger, component string) *zap.Logger {
	return orNop(log).Named(component)
}
