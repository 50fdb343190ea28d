// Package logging provides category-scoped loggers for the sync subsystem.
// Each component gets a logger carrying a category field; output and level
// are configured once at startup and can be changed at runtime.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the subsystem a log line belongs to.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and wiring
	CategoryCanvas     Category = "canvas"     // Canvas host interactions
	CategoryActivity   Category = "activity"   // Activity tracking, debounce, idle
	CategoryAnimate    Category = "animate"    // Typing animation jobs
	CategoryConnection Category = "connection" // Channel state machine
	CategorySession    Category = "session"    // Session lifecycle, chat log
	CategoryConfig     Category = "config"     // Config load and hot reload
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	loggers = make(map[Category]*zap.Logger)
)

// Options configures the logging backend.
type Options struct {
	Level      string // debug, info, warn, error
	JSONFormat bool   // structured JSON instead of console encoding
	Disabled   bool   // swap everything for no-op loggers
}

// Init builds the root logger. Safe to call again to reconfigure; existing
// category loggers are rebuilt lazily on the next Get.
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	if opts.Disabled {
		root = zap.NewNop()
		loggers = make(map[Category]*zap.Logger)
		return
	}

	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opts.JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	root = zap.New(core)
	loggers = make(map[Category]*zap.Logger)
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *zap.Logger {
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
	l := root.With(zap.String("cat", string(cat)))
	loggers[cat] = l
	return l
}

// SetLevel changes the level at runtime (config hot reload path).
func SetLevel(name string) {
	if err := level.UnmarshalText([]byte(name)); err == nil {
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
