// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "murmur.log"

// Options selects level, format and an optional rotating log directory.
type Options struct {
	Level  string
	Format string
	Dir    string
}

// New returns a logger writing to stderr, and to a rotating file under
// opts.Dir when set. The returned closer releases the file.
func New(opts Options) (*slog.Logger, io.Closer) {
	return newWithWriter(os.Stderr, opts)
}

func newWithWriter(base io.Writer, opts Options) (*slog.Logger, io.Closer) {
	var out = base
	var closer io.Closer = nopCloser{}
	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, logFileName),
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		out = io.MultiWriter(base, rotator)
		closer = rotator
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler), closer
}

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
