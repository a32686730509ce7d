package utils

import (
	"io"
	"log"
	"os"
)

// Logger is the process-wide leveled logger. Warn and error lines carry a
// prefix so operators can grep rejections out of the request noise.
type Logger struct {
	std *log.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stderr)
}

// NewLoggerTo writes to the given sink; tests use it to capture output.
func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{std: log.New(w, "", log.LstdFlags|log.LUTC)}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.std.Printf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.std.Printf("WARN "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.std.Printf("ERROR "+format, args...)
}
