package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

var (
	Logger *slog.Logger
	level  = new(slog.LevelVar) // dynamic level, adjusted by Init / SetLevel
)

func init() {
	Logger = newLogger()
}

func newLogger() *slog.Logger {
	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// Init re-reads LOG_FORMAT and LOG_LEVEL. Safe to call more than once.
func Init() {
	SetLevel(os.Getenv("LOG_LEVEL"))
	Logger = newLogger()
	slog.SetDefault(Logger)
}

// SetLevel accepts debug, info, warn or error. Anything else keeps info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Info(msg string, args ...any)  { Logger.Info(msg, args...) }
func Error(msg string, args ...any) { Logger.Error(msg, args...) }
func Warn(msg string, args ...any)  { Logger.Warn(msg, args...) }
func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

// Fatal logs at error level and exits.
func Fatal(msg string, args ...any) {
	Logger.Error(msg, args...)
	os.Exit(1)
}

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

// WrapSlog bridges libraries that want a *log.Logger (goburrow/modbus) onto slog at debug level.
func WrapSlog(args ...any) *log.Logger {
	return slog.NewLogLogger(Logger.With(args...).Handler(), slog.LevelDebug)
}
