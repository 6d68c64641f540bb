package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Logger is the slog logger shared by the supervisor and workers. Every
// record passes through a SanitizingHandler before it is written.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
}

// ForWorker returns the configuration used inside worker processes. Their
// stdout carries the envelope channel, so logs go to stderr.
func ForWorker(level, format string) Config {
	return Config{Level: level, Format: format, Output: os.Stderr}
}

// DefaultConfig is what the supervisor uses before configuration is loaded.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "auto", Output: os.Stdout}
}

// New creates a logger writing to cfg.Output (stdout when nil).
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	sanitizer := NewSanitizer()
	return &Logger{
		Logger:    slog.New(NewSanitizingHandler(baseHandler(cfg), sanitizer)),
		sanitizer: sanitizer,
	}
}

// baseHandler picks the output encoding. "auto" is pretty on a terminal
// and JSON otherwise, so piped supervisor output stays machine readable.
func baseHandler(cfg Config) slog.Handler {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(cfg.Output, opts)
	case "text":
		return slog.NewTextHandler(cfg.Output, opts)
	}
	if isTerminal(cfg.Output) {
		return NewPrettyHandler(cfg.Output, level)
	}
	return slog.NewJSONHandler(cfg.Output, opts)
}

// NewNop creates a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sanitizer: NewSanitizer(),
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (l *Logger) derive(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), sanitizer: l.sanitizer}
}

// WithWorker scopes the logger to a worker name.
func (l *Logger) WithWorker(name string) *Logger {
	return l.derive("worker", name)
}

// WithProcess scopes the logger to one worker process.
func (l *Logger) WithProcess(name string, pid int) *Logger {
	return l.derive("worker", name, "pid", pid)
}

// WithMessage scopes the logger to an envelope id.
func (l *Logger) WithMessage(messageID string) *Logger {
	return l.derive("message_id", messageID)
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return l.derive(args...)
}

// Sanitizer returns the sanitizer used by this logger.
func (l *Logger) Sanitizer() *Sanitizer {
	return l.sanitizer
}

// Sanitize sanitizes a string using the logger's sanitizer.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}
