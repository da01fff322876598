package zcomm

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
}

var _ Logger = (*zap.SugaredLogger)(nil)

var defaultLogger Logger = NewLogger(zapcore.InfoLevel, "console")

// DefaultLogger is used by every component not given WithLogger.
func DefaultLogger() Logger {
	return defaultLogger
}

// SetDefaultLogger replaces the package-wide logger.
func SetDefaultLogger(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// NewLogger builds a zap backed Logger. encoding is "console" or "json".
func NewLogger(level zapcore.Level, encoding string) Logger {
	return CreateZapLogger(level, encoding).Sugar()
}

// ParseLogger builds a Logger from textual level and format settings.
func ParseLogger(level, format string) (Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, errors.WithMessage(err, "zcomm: log level")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "console" && format != "json" {
		return nil, errors.Errorf("zcomm: log format must be one of 'console' or 'json', got %q", format)
	}
	return NewLogger(lvl, format), nil
}

func CreateZapLogger(level zapcore.Level, encoding string) *zap.Logger {
	encoderConf := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	conf := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          encoding,
		EncoderConfig:     encoderConf,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     true,
		DisableStacktrace: true,
	}
	l, err := conf.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("zcomm")
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.999999"))
}
