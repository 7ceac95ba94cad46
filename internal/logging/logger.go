package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// File is the operation log. Empty logs to Console only.
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console receives the same lines; nil means stderr.
	Console io.Writer
}

// Logger writes one line per operation to the rotating operation log and
// the console, and keeps the lines of this run for the final summary.
type Logger struct {
	entry  *logrus.Entry
	buf    *lineBuffer
	path   string
	closer io.Closer
}

func New(opts Options) (*Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(parseLevel(opts.Level))

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{console}

	var rotate *lumberjack.Logger
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, rotate)
	}
	logger.SetOutput(io.MultiWriter(writers...))

	buf := &lineBuffer{}
	logger.AddHook(buf)

	l := &Logger{entry: logrus.NewEntry(logger), buf: buf, path: opts.File}
	if rotate != nil {
		l.closer = rotate
	}
	return l, nil
}

// Discard returns a logger that only keeps lines in memory.
func Discard() *Logger {
	l, _ := New(Options{Console: io.Discard, Level: "debug"})
	return l
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	}
	return logrus.InfoLevel
}

// With returns a logger that adds a field to every line. It shares the
// run's line buffer.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), buf: l.buf, path: l.path, closer: l.closer}
}

func (l *Logger) Log(format string, args ...any)   { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...any) { l.entry.Errorf(format, args...) }
func (l *Logger) Debug(format string, args ...any) { l.entry.Debugf(format, args...) }

func (l *Logger) Lines() []string { return l.buf.lines() }

// Path is the operation log file, or "" when logging to the console only.
func (l *Logger) Path() string { return l.path }

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

type lineBuffer struct {
	mu  sync.Mutex
	buf []string
}

func (b *lineBuffer) Levels() []logrus.Level { return logrus.AllLevels }

func (b *lineBuffer) Fire(e *logrus.Entry) error {
	line := fmt.Sprintf("[%s] %s", e.Level, e.Message)
	if step, ok := e.Data["step"]; ok {
		line = fmt.Sprintf("[%s] %v: %s", e.Level, step, e.Message)
	}
	b.mu.Lock()
	b.buf = append(b.buf, line)
	b.mu.Unlock()
	return nil
}

func (b *lineBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]string, len(b.buf))
	copy(cp, b.buf)
	return cp
}
