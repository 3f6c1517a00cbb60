// Package log provides structured logging for the extraction engine using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with extraction-engine-specific helpers.
type Logger struct {
	*zap.Logger
	onEvidence func(source, classname, detail string) // evidence callback, used by the --verbose evidence log
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// ISO8601 timestamps under a short key, in both modes
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnEvidence sets the evidence callback, invoked once per resolved
// literal/spawn entry so the --verbose evidence log can collect them
// without the builder threading a collector through every function.
func (l *Logger) SetOnEvidence(fn func(source, classname, detail string)) {
	l.onEvidence = fn
}

// Evidence logs a single piece of spawn evidence and calls the evidence
// callback if set. This is the primary method every evidence source
// (IL direct pairs, inline tables, strcmp chains, PE spawn tables,
// itemlist, call graph, b150 literal map) reports through.
func (l *Logger) Evidence(source, classname, detail string) {
	if l.onEvidence != nil {
		l.onEvidence(source, classname, detail)
	}

	l.Debug("evidence",
		zap.String("src", source),
		zap.String("classname", classname),
		zap.String("detail", detail),
	)
}

// SourceAttached logs when a manifest field (block/spawnflags/defaults) is
// attached to a classname from a given evidence source, for provenance
// tracing.
func (l *Logger) SourceAttached(classname, field, source string) {
	l.Debug("attached",
		zap.String("classname", classname),
		zap.String("field", field),
		zap.String("src", source),
	)
}

// BuilderActivate logs when a spawn-map evidence source begins contributing
// entries, mirroring the teacher's detector-activation log shape.
func (l *Logger) BuilderActivate(source, description string) {
	l.Info("source",
		zap.String("src", source),
		zap.String("desc", description),
	)
}

// WithClassname returns a logger with the classname field preset.
func (l *Logger) WithClassname(classname string) *Logger {
	return &Logger{
		Logger:     l.Logger.With(zap.String("classname", classname)),
		onEvidence: l.onEvidence,
	}
}

// Hex formats a uint64 as hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}

// Classname creates a spawn classname field.
func Classname(name string) zap.Field {
	return zap.String("classname", name)
}

// VA creates a virtual-address field from a 32-bit image address.
func VA(addr uint32) zap.Field {
	return zap.String("va", Hex(uint64(addr)))
}
