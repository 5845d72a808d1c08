package bluetooth

import "log/slog"

// Logger is what the Bluetooth client logs through. *slog.Logger and
// *logging.Logger both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// discard is the logger until SetLogger is called.
var discard Logger = slog.New(slog.DiscardHandler)
