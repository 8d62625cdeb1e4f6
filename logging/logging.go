// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tolelom/stakebox/config"
)

// Logger is the configured root logger together with the level variable
// that controls it at runtime.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
	out   io.Closer
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.Close()
}

// ParseLevel maps a level name to a slog.Level. An empty name is info.
func ParseLevel(name string) (slog.Level, error) {
	var lv slog.Level
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	if err := lv.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err != nil {
		return 0, fmt.Errorf("logging: unknown level %q", name)
	}
	return lv, nil
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: attr.Value}
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: attr.Value}
	}
	return attr
}

// New builds a logger writing to w without touching global state.
func New(w io.Writer, service string, cfg config.LogConfig) (*Logger, error) {
	lv, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lv)

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env := strings.TrimSpace(cfg.Env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return &Logger{Logger: slog.New(handler.WithAttrs(attrs)), Level: level}, nil
}

// Setup configures the default slog logger and the standard library logger
// from cfg. Logs go to stderr unless cfg.File names a file, which is then
// rotated by size.
func Setup(service string, cfg config.LogConfig) (*Logger, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if cfg.File != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w, closer = rot, rot
	}
	l, err := New(w, service, cfg)
	if err != nil {
		return nil, err
	}
	l.out = closer
	slog.SetDefault(l.Logger)

	// Bridge the standard library logger so existing packages continue to work.
	std := slog.NewLogLogger(l.Logger.Handler(), slog.LevelInfo)
	log.SetOutput(std.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
	return l, nil
}
