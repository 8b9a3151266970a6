// Package logging provides a structured logger carrying CPU/task/thread
// context. cmd/mkcore-sim sets it up as the default logger; the
// scheduler, IPC, and futex packages do not log through it.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format is "text" (default) or "json".
	Format  string
	Output  io.Writer
	Sync    bool // flush-per-call; the core always operates this way today
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps stdlib log with level support and chained key/value
// context. With* calls return a new *Logger sharing the backing writer
// and mutex, so per-CPU/per-task loggers are cheap to derive.
type Logger struct {
	std     *log.Logger
	level   LogLevel
	format  string
	noColor bool
	mu      *sync.Mutex
	fields  []field
}

type field struct {
	key string
	val any
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		std:     log.New(output, "", 0),
		level:   config.Level,
		format:  format,
		noColor: config.NoColor,
		mu:      &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

func (l *Logger) with(key string, val any) *Logger {
	next := make([]field, len(l.fields), len(l.fields)+1)
	copy(next, l.fields)
	next = append(next, field{key, val})
	return &Logger{std: l.std, level: l.level, format: l.format, noColor: l.noColor, mu: l.mu, fields: next}
}

// WithCPU scopes subsequent log lines to a CPU id.
func (l *Logger) WithCPU(cpuID int) *Logger { return l.with("cpu_id", cpuID) }

// WithTask scopes subsequent log lines to a task id.
func (l *Logger) WithTask(taskID uint64) *Logger { return l.with("task_id", taskID) }

// WithThread scopes subsequent log lines to a thread id.
func (l *Logger) WithThread(threadID uint64) *Logger { return l.with("thread_id", threadID) }

// WithError attaches an error to subsequent log lines.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		l.logJSON(level, msg, args)
		return
	}

	var ctx string
	for _, f := range l.fields {
		ctx += fmt.Sprintf(" %s=%v", f.key, f.val)
	}
	l.std.Printf("%s %s %s%s%s", time.Now().Format(time.RFC3339Nano), level, msg, ctx, formatArgs(args))
}

func (l *Logger) logJSON(level LogLevel, msg string, args []any) {
	entry := map[string]any{
		"ts":    time.Now().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for _, f := range l.fields {
		entry[f.key] = f.val
	}
	for i := 0; i+1 < len(args); i += 2 {
		entry[fmt.Sprintf("%v", args[i])] = args[i+1]
	}
	b, err := json.Marshal(entry)
	if err != nil {
		l.std.Printf("%s %s %s (marshal error: %v)", time.Now().Format(time.RFC3339Nano), level, msg, err)
		return
	}
	l.std.Println(string(b))
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// Debugf/Infof/Warnf/Errorf support printf-style callers (together with
// Printf they satisfy interfaces.Logger).
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...)) }

// Printf is kept for compatibility with code written against a plain
// Printf-shaped logger interface.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions against the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
