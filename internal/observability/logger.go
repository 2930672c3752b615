// Package observability holds the process-wide CLI logger.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger for command execution. It writes human-readable
// lines to stderr so stdout stays free for JSONL records.
var CLILogger = zap.NewNop()

// InitCLILogger replaces CLILogger. Verbose enables debug level.
func InitCLILogger(name string, verbose bool) {
	CLILogger = NewCLILogger(name, verbose, zapcore.Lock(os.Stderr))
}

// NewCLILogger builds a console logger writing to ws.
func NewCLILogger(name string, verbose bool, ws zapcore.WriteSyncer) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	return newConsoleLogger(name, zap.NewAtomicLevelAt(level), ws)
}

// InitCLILoggerLevel is InitCLILogger with an explicit level name
// ("debug", "info", "warn", "error"). Unknown names fall back to info.
func InitCLILoggerLevel(name, level string) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.SetLevel(zapcore.InfoLevel)
	}
	CLILogger = newConsoleLogger(name, lvl, zapcore.Lock(os.Stderr))
}

func newConsoleLogger(name string, level zap.AtomicLevel, ws zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
	return zap.New(core).Named(name)
}
