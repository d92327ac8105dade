package logger

import (
	"io"
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// The loggers are created once; Init only redirects their output, so
// goroutines already holding them keep logging safely.
var (
	Info  = log.New(io.Discard, "", 0)
	Error = log.New(io.Discard, "", 0)
	Debug = log.New(io.Discard, "", 0)

	base *zap.Logger
)

func init() {
	install(zap.NewNop())
}

type Options struct {
	Debug bool
	// JSON forces JSON output. Otherwise JSON is used only when stderr is
	// not a terminal.
	JSON bool
}

func Init(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !opts.JSON && term.IsTerminal(int(os.Stderr.Fd())) {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	install(l)
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	base.Sync()
}

func install(l *zap.Logger) {
	base = l
	Info.SetOutput(zap.NewStdLog(l).Writer())
	Error.SetOutput(mustStdLog(l, zapcore.ErrorLevel).Writer())
	Debug.SetOutput(mustStdLog(l, zapcore.DebugLevel).Writer())
}

func mustStdLog(l *zap.Logger, level zapcore.Level) *log.Logger {
	std, err := zap.NewStdLogAt(l, level)
	if err != nil {
		// Only invalid levels fail, and the levels above are fixed.
		panic(err)
	}
	return std
}
