package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the layout used for log timestamps.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender receives fully formed log entries and writes them somewhere.
type Appender interface {
	Write(entry zapcore.Entry, fields []zapcore.Field) error
	Sync() error
}

// NewZapLoggerConfig returns the zap config backing console output:
// colored levels, ISO timestamps, no stacktraces.
func NewZapLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

type consoleAppender struct {
	mu      *sync.Mutex
	encoder zapcore.Encoder
}

// NewStdoutAppender returns an Appender that encodes entries with the
// console encoder and writes them to stdout.
func NewStdoutAppender() Appender {
	return &consoleAppender{
		mu:      &sync.Mutex{},
		encoder: zapcore.NewConsoleEncoder(NewZapLoggerConfig().EncoderConfig),
	}
}

func (appender *consoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.Clone().EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	appender.mu.Lock()
	defer appender.mu.Unlock()
	_, err = os.Stdout.Write(buf.Bytes())
	buf.Free()
	return err
}

func (appender *consoleAppender) Sync() error {
	return nil
}
