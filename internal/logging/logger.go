// Package logging provides category-scoped structured logging for helmsman.
// Every extraction, repair, classification, compaction, and disclosure
// decision is logged with the decision kind and the triggering signal, so a
// session can be reconstructed from the log alone.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the subsystem emitting a log entry.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and configuration
	CategorySession    Category = "session"    // Session loop, snapshots, rollbacks
	CategoryExtract    Category = "extract"    // Instruction extraction decisions
	CategoryRepair     Category = "repair"     // Instruction repair decisions
	CategoryVerdict    Category = "verdict"    // Failure classification decisions
	CategoryCompact    Category = "compact"    // History compaction decisions
	CategoryDisclosure Category = "disclosure" // Instruction disclosure decisions
	CategoryTier       Category = "tier"       // Model tier resolution
	CategoryProvider   Category = "provider"   // Generation provider calls
	CategoryStore      Category = "store"      // Decision journal operations
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize configures the process-wide logger. When dir is non-empty, logs
// are written as JSON lines to <dir>/helmsman.log; otherwise they go to
// stderr in console encoding. level accepts debug/info/warn/error.
func Initialize(dir, level string) error {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	var core zapcore.Core
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(dir, "helmsman.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "ts"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), lvl)
	} else {
		enc := zap.NewDevelopmentEncoderConfig()
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(os.Stderr), lvl)
	}

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(core)
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// SetLogger replaces the root logger. Intended for tests (zaptest) and for
// hosts that already own a zap tree.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Get returns the sugared logger for a category. Loggers are cached; the
// category appears as the "cat" field on every entry.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := root.Sugar().With("cat", string(cat))
	loggers[cat] = l
	return l
}

// Decision logs one structured decision entry. kind names the decision taken
// and signal names what triggered it; extra key/value pairs carry detail.
func Decision(cat Category, kind, signal string, kv ...interface{}) {
	Get(cat).Infow("decision", append([]interface{}{"kind", kind, "signal", signal}, kv...)...)
}

// Sync flushes buffered log entries. Safe to call on a nop logger.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
