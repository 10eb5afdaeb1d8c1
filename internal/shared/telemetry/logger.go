package telemetry

import (
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stdout)
)

func newLogger(w io.Writer) *log.Logger {
	return &log.Logger{
		Level:      log.InfoLevel,
		TimeField:  "ts",
		TimeFormat: time.RFC3339,
		Writer:     &log.IOWriter{Writer: w},
	}
}

// SetOutput redirects log lines to w. Tests use it to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

// SetLevel changes the minimum level written ("debug", "info", "warn", "error").
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetLevel(log.ParseLevel(level))
}

// Info writes an info-level log line with the given fields.
func Info(msg string, fields map[string]any) {
	write(log.InfoLevel, msg, fields)
}

// Warn writes a warn-level log line with the given fields.
func Warn(msg string, fields map[string]any) {
	write(log.WarnLevel, msg, fields)
}

// Error writes an error-level log line with the given fields.
func Error(msg string, fields map[string]any) {
	write(log.ErrorLevel, msg, fields)
}

func write(level log.Level, msg string, fields map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	var e *log.Entry
	switch level {
	case log.WarnLevel:
		e = l.Warn()
	case log.ErrorLevel:
		e = l.Error()
	default:
		e = l.Info()
	}
	if e == nil {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			e = e.Str(k, v)
		case error:
			e = e.Str(k, v.Error())
		default:
			e = e.Interface(k, v)
		}
	}
	e.Msg(msg)
}
