// Package logging builds the broker's zap logger. Production runs want
// compact, sampled JSON that a log shipper can parse; a developer running
// the broker against a local NATS instance wants every line, readable,
// with no sampling hiding a rare reap or relay decision.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rounaksalim95/pubsub-broker/internal/config"
)

// New builds a zap logger from the logging section of the broker config,
// tagged with component so broker and client log lines are easy to tell
// apart when both run against the same NATS cluster during development.
func New(cfg config.LoggingConfig, component string) (*zap.Logger, error) {
	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Development {
		// Every line matters locally: no sampling, color-coded levels,
		// plain text instead of JSON.
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderCfg.EncodeDuration = zapcore.StringDurationEncoder
		zapCfg.Encoding = "console"
	} else {
		encoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoderCfg.EncodeDuration = zapcore.SecondsDurationEncoder
		zapCfg.Encoding = "json"
		zapCfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	zapCfg.EncoderConfig = encoderCfg

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("component", component)), nil
}
