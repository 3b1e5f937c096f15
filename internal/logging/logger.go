// Package logging provides structured logging with component tags and trace
// IDs, plus a plain-text file sink that backs the read_system_logs tool.
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging interface used across the server.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})

	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})

	WithComponent(component string) Logger
	WithTraceID(traceID string) Logger
}

// LogLevel represents logging levels.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ParseLogLevel maps a string to a level, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ContextKey is the type for context values owned by this package.
type ContextKey string

// TraceIDKey carries the per-task correlation id.
const TraceIDKey ContextKey = "trace_id"

// GenerateTraceID returns a fresh correlation id.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTrace attaches a trace id to ctx, generating one if empty.
func WithTrace(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace id from ctx, if any.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// fileLogger writes one record per line: [ISO8601] LEVEL Component: message.
type fileLogger struct {
	level     LogLevel
	component string
	traceID   string
	sink      *FileSink
}

// NewLogger creates a logger writing to the given sink. A nil sink logs to
// stderr only.
func NewLogger(level LogLevel, sink *FileSink) Logger {
	return &fileLogger{level: level, sink: sink}
}

func (l *fileLogger) clone() *fileLogger {
	c := *l
	return &c
}

func (l *fileLogger) WithComponent(component string) Logger {
	c := l.clone()
	c.component = component
	return c
}

func (l *fileLogger) WithTraceID(traceID string) Logger {
	c := l.clone()
	c.traceID = traceID
	return c
}

func (l *fileLogger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, "", msg, fields...) }
func (l *fileLogger) Info(msg string, fields ...interface{})  { l.log(INFO, "", msg, fields...) }
func (l *fileLogger) Warn(msg string, fields ...interface{})  { l.log(WARN, "", msg, fields...) }
func (l *fileLogger) Error(msg string, fields ...interface{}) { l.log(ERROR, "", msg, fields...) }

func (l *fileLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(INFO, GetTraceID(ctx), msg, fields...)
}

func (l *fileLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(WARN, GetTraceID(ctx), msg, fields...)
}

func (l *fileLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ERROR, GetTraceID(ctx), msg, fields...)
}

func (l *fileLogger) log(level LogLevel, ctxTrace, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	traceID := l.traceID
	if ctxTrace != "" {
		traceID = ctxTrace
	}

	var b strings.Builder
	b.WriteString(msg)
	if traceID != "" {
		fmt.Fprintf(&b, " trace=%s", shortTrace(traceID))
	}
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 == 1 {
		fmt.Fprintf(&b, " %v", fields[len(fields)-1])
	}

	component := l.component
	if component == "" {
		component = "server"
	}

	line := fmt.Sprintf("[%s] %s %s: %s",
		time.Now().UTC().Format(time.RFC3339), level, component, b.String())

	fmt.Fprintln(os.Stderr, line)
	if l.sink != nil {
		l.sink.WriteLine(line)
	}
}

func shortTrace(traceID string) string {
	if len(traceID) > 8 {
		return traceID[:8]
	}
	return traceID
}

// Package-level default logger.

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = NewLogger(INFO, nil)
)

// SetDefaultLogger replaces the package default.
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

func getDefault() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// WithComponent returns a component-scoped logger from the default.
func WithComponent(component string) Logger {
	return getDefault().WithComponent(component)
}

func Debug(msg string, fields ...interface{}) { getDefault().Debug(msg, fields...) }
func Info(msg string, fields ...interface{})  { getDefault().Info(msg, fields...) }
func Warn(msg string, fields ...interface{})  { getDefault().Warn(msg, fields...) }
func Error(msg string, fields ...interface{}) { getDefault().Error(msg, fields...) }
