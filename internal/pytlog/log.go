// Package pytlog provides the single process-wide structured logger every
// other package logs through, mirroring the original tool's one
// 'pytomcat.*' logging hierarchy.
package pytlog

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	logger = build(zapcore.InfoLevel)
}

// Setup rebuilds the process-wide logger at the given level name
// (ERROR/WARN/INFO/DEBUG, case-insensitive, matching scripts.py's
// --loglevel flag). An unrecognized name falls back to INFO.
func Setup(level string) {
	mu.Lock()
	defer mu.Unlock()
	logger = build(parseLevel(level))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "ERROR":
		return zapcore.ErrorLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "DEBUG":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(level zapcore.Level) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "" // an interactive CLI doesn't need timestamps cluttering every line
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), level)
	return zap.New(core).Sugar()
}

// L returns the current process-wide logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
