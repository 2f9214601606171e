package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyRequestID  = "requestId"
	KeyOperation  = "operation"
	KeyField      = "field"
	KeyItemType   = "itemtype"
	KeyDurationMs = "durationMs"
	KeyStatus     = "status"
)

type contextKey struct{}

// switchableCore lets package-level loggers created before Init()
// pick up the configured core once Init runs.
type switchableCore struct {
	state  *switchableState
	fields []zapcore.Field
}

type switchableState struct {
	current atomic.Value // stores zapcore.Core
}

func newSwitchableCore(core zapcore.Core) *switchableCore {
	state := &switchableState{}
	state.current.Store(core)
	return &switchableCore{state: state}
}

func (c *switchableCore) set(core zapcore.Core) {
	c.state.current.Store(core)
}

func (c *switchableCore) base() zapcore.Core {
	return c.state.current.Load().(zapcore.Core)
}

func (c *switchableCore) materialize() zapcore.Core {
	core := c.base()
	if len(c.fields) > 0 {
		core = core.With(c.fields)
	}
	return core
}

func (c *switchableCore) Enabled(level zapcore.Level) bool {
	return c.base().Enabled(level)
}

func (c *switchableCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &switchableCore{state: c.state, fields: merged}
}

func (c *switchableCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return c.materialize().Check(entry, checked)
}

func (c *switchableCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.materialize().Write(entry, fields)
}

func (c *switchableCore) Sync() error {
	return c.base().Sync()
}

var (
	rootCore      = newSwitchableCore(newCore("text", zapcore.InfoLevel, zapcore.Lock(os.Stderr)))
	defaultLogger = zap.New(rootCore)
)

// Init configures the global logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, level string, output io.Writer) {
	var sink zapcore.WriteSyncer
	if output == nil {
		sink = zapcore.Lock(os.Stderr)
	} else {
		sink = zapcore.AddSync(output)
	}

	rootCore.set(newCore(format, parseLevel(level), sink))
}

// Sync flushes buffered entries. Call before the process exits.
func Sync() {
	_ = defaultLogger.Sync()
}

func newCore(format string, level zapcore.Level, sink zapcore.WriteSyncer) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, sink, level)
}

// L returns a logger tagged with the given component name.
func L(component string) *zap.Logger {
	return defaultLogger.With(zap.String(KeyComponent, component))
}

// WithRequest returns a child logger carrying the request correlation id.
func WithRequest(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String(KeyRequestID, requestID))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(contextKey{}).(*zap.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
