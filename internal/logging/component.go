package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	defaultSink     *sink
	defaultSinkOnce sync.Once
)

// sink is the shared output target behind all component loggers.
type sink struct {
	mu     sync.Mutex
	file   *os.File
	out    io.Writer
	level  Level
	writer *log.Logger
}

func getDefaultSink() *sink {
	defaultSinkOnce.Do(func() {
		defaultSink = newSink(LevelDebug)
	})
	return defaultSink
}

func newSink(level Level) *sink {
	s := &sink{level: level, out: os.Stdout}
	home, err := os.UserHomeDir()
	if err != nil {
		return s
	}
	logPath := filepath.Join(home, "agentex-server.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return s
	}
	s.file = file
	s.writer = log.New(file, "", 0)
	return s
}

// SetLevel sets the minimum level on the shared sink.
func SetLevel(level Level) {
	s := getDefaultSink()
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(value string) Level {
	switch value {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// componentLogger writes formatted lines to the shared sink, tagged with a
// component name. Every line passes through Redact before it is written.
type componentLogger struct {
	sink      *sink
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{sink: getDefaultSink(), component: component}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "agentex"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		time.Now().Format("2006-01-02 15:04:05"), levelString(level), component, file, line, message)

	// Credentials must never reach a sink, even via %v dumps of request
	// headers or config structs.
	sanitized := Redact(logLine)

	if s.writer != nil {
		s.writer.Print(sanitized)
	}
	fmt.Fprint(s.out, sanitized)
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func levelString(level Level) string {
	switch level {
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
