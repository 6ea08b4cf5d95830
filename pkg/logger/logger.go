package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New builds a production logger at the given level. "debug" switches to the
// development config. A non-empty format ("json" or "console") overrides the
// encoder that config would pick. Unknown levels fall back to info.
func New(level, format string) *zap.Logger {
	l, err := buildConfig(level, format).Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func buildConfig(level, format string) zap.Config {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	switch format {
	case FormatJSON, FormatConsole:
		cfg.Encoding = format
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
