package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
)

const serviceName = "lmbridge"

// Rotation limits used when the file settings are zero.
const (
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 5
	defaultMaxAgeDays = 28
)

const redacted = "[REDACTED]"

// secretKeys are attribute keys whose values never reach the output.
var secretKeys = map[string]bool{
	"password":         true,
	"token":            true,
	"access_token":     true,
	"refresh_token":    true,
	"ble_token":        true,
	"installation_key": true,
	"secret":           true,
}

// Logger is a slog.Logger carrying the service and version fields. It
// satisfies the Logger interfaces of the other packages and is safe for
// concurrent use.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds the process logger from the logging config section. Output
// "file" writes through a size-rotated lumberjack file; anything other
// than "stderr" otherwise means stdout.
//
// Parameters:
//   - cfg: Logging section of the config
//   - version: Build version added to every line
//
// Returns:
//   - *Logger: Configured logger; call Close on shutdown
func New(cfg config.LoggingConfig, version string) *Logger {
	w, closer := openOutput(cfg)
	l := newLogger(w, cfg, version)
	l.closer = closer
	return l
}

// Default is the logger used before the config file is read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

func newLogger(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "file":
		r := newRotator(cfg.File)
		return r, r
	case "stderr":
		return os.Stderr, nil
	default:
		return os.Stdout, nil
	}
}

func newRotator(cfg config.FileLoggingConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSize, defaultMaxSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, defaultMaxBackups),
		MaxAge:     orDefault(cfg.MaxAge, defaultMaxAgeDays),
		Compress:   cfg.Compress,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseLevel accepts debug, info, warn (or warning) and error in any
// case. Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// With returns a child logger with extra attributes. It shares the
// parent's log file.
//
//	cloudLog := log.With("component", "cloud")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closer: l.closer}
}

// Close closes the log file, if any. Call it on the root logger only.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
